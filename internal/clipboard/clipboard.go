package clipboard

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/atotto/clipboard"
	osc52 "github.com/aymanbagabas/go-osc52/v2"

	"sharesheet/internal/types"
)

// Method is the backend that accepted the copy.
type Method uint8

const (
	MethodSystem Method = iota
	MethodOSC52
)

func (m Method) String() string {
	if m == MethodOSC52 {
		return "osc52"
	}
	return "system"
}

// DisableOSC52Env turns the terminal fallback off when set to a truthy value.
const DisableOSC52Env = "SHARESHEET_DISABLE_OSC52"

var ErrNothingToCopy = errors.New("intent has no text to copy")

var writeAll = clipboard.WriteAll
var writeOSC52 = writeOSC52Clipboard
var openTTYForWrite = func() (io.WriteCloser, error) {
	return os.OpenFile("/dev/tty", os.O_WRONLY, 0)
}

// Copy writes text to the system clipboard, falling back to an OSC52
// escape on the controlling terminal. Nothing is written when ctx is
// already done. A write that is in flight when ctx ends is not
// interrupted and may still land after Copy returns ctx.Err().
func Copy(ctx context.Context, text string) (Method, error) {
	if err := ctx.Err(); err != nil {
		return MethodSystem, err
	}
	type result struct {
		method Method
		err    error
	}
	system, osc := writeAll, writeOSC52
	done := make(chan result, 1)
	go func() {
		method, err := copyText(text, system, osc)
		done <- result{method: method, err: err}
	}()
	select {
	case <-ctx.Done():
		return MethodSystem, ctx.Err()
	case res := <-done:
		return res.method, res.err
	}
}

// CopyIntent copies the shared text of a send intent, the chooser's copy
// action.
func CopyIntent(ctx context.Context, intent *types.Intent) (Method, error) {
	text := IntentText(intent)
	if text == "" {
		return MethodSystem, ErrNothingToCopy
	}
	return Copy(ctx, text)
}

// IntentText is the EXTRA_TEXT of intent, or its data URI.
func IntentText(intent *types.Intent) string {
	if intent == nil {
		return ""
	}
	if raw, ok := intent.Extras[types.ExtraText]; ok {
		if text, ok := raw.(string); ok && strings.TrimSpace(text) != "" {
			return text
		}
	}
	return strings.TrimSpace(intent.Data)
}

func copyText(text string, system, osc func(string) error) (Method, error) {
	err := system(text)
	if err == nil {
		return MethodSystem, nil
	}
	if oscErr := osc(text); oscErr != nil {
		return MethodSystem, combineErrors(err, oscErr)
	}
	return MethodOSC52, nil
}

func writeOSC52Clipboard(text string) error {
	if !shouldAttemptOSC52() {
		return errors.New("OSC52 unavailable for this terminal")
	}
	tty, err := openTTYForWrite()
	if err != nil {
		return fmt.Errorf("open /dev/tty: %w", err)
	}
	defer tty.Close()
	return writeOSC52Sequence(tty, text)
}

func writeOSC52Sequence(w io.Writer, text string) error {
	termName := strings.ToLower(strings.TrimSpace(os.Getenv("TERM")))
	if os.Getenv("TMUX") != "" {
		// tmux setups differ on passthrough; send both forms.
		if _, err := osc52.New(text).WriteTo(w); err != nil {
			return err
		}
		_, err := osc52.New(text).Tmux().WriteTo(w)
		return err
	}
	if strings.HasPrefix(termName, "screen") {
		_, err := osc52.New(text).Screen().WriteTo(w)
		return err
	}
	_, err := osc52.New(text).WriteTo(w)
	return err
}

func shouldAttemptOSC52() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(DisableOSC52Env))) {
	case "1", "true", "yes", "on":
		return false
	}
	termName := strings.TrimSpace(os.Getenv("TERM"))
	return termName != "" && !strings.EqualFold(termName, "dumb")
}

func combineErrors(systemErr, oscErr error) error {
	oscMsg := humanizeError(oscErr)
	if missingDisplay() {
		return fmt.Errorf("no GUI clipboard available (DISPLAY/WAYLAND_DISPLAY unset); OSC52 fallback failed: %s", oscMsg)
	}
	return fmt.Errorf("system clipboard failed: %s; OSC52 fallback failed: %s", humanizeError(systemErr), oscMsg)
}

func humanizeError(err error) string {
	if err == nil {
		return ""
	}
	msg := strings.TrimSpace(err.Error())
	if msg == "exit status 1" {
		if missingDisplay() {
			return "no GUI clipboard available (DISPLAY/WAYLAND_DISPLAY unset)"
		}
		return "clipboard helper exited with status 1"
	}
	return msg
}

func missingDisplay() bool {
	return strings.TrimSpace(os.Getenv("DISPLAY")) == "" && strings.TrimSpace(os.Getenv("WAYLAND_DISPLAY")) == ""
}
