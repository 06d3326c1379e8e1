package pool

import (
	"errors"
	"testing"
	"time"
)

type plainCall string

func (c plainCall) Method() string { return string(c) }

type markedCall struct {
	plainCall
	idempotent bool
}

func (c markedCall) Idempotent() bool { return c.idempotent }

func TestRetryable(t *testing.T) {
	tests := []struct {
		name string
		call Call
		want bool
	}{
		{"unmarked", plainCall("getTime"), true},
		{"idempotent", markedCall{plainCall("runGetMethod"), true}, true},
		{"not idempotent", markedCall{plainCall("sendMessage"), false}, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := retryable(tc.call); got != tc.want {
				t.Errorf("Expected retryable=%v, got %v", tc.want, got)
			}
		})
	}
}

func TestWatcher(t *testing.T) {
	w := NewWatcher()
	if w.Finished() {
		t.Fatal("Expected new watcher to be running")
	}
	if w.Err() != nil {
		t.Errorf("Expected nil error while running, got %v", w.Err())
	}

	cause := errors.New("session lost")
	w.Finish(cause)
	w.Finish(errors.New("ignored"))

	if !w.Finished() {
		t.Fatal("Expected watcher to be finished")
	}
	if !errors.Is(w.Err(), cause) {
		t.Errorf("Expected first cause to stick, got %v", w.Err())
	}
	select {
	case <-w.Done():
	default:
		t.Error("Expected Done to be closed")
	}
}

func TestWatch(t *testing.T) {
	stop := make(chan struct{})
	w := Watch(func() error {
		<-stop
		return nil
	})

	if w.Finished() {
		t.Fatal("Expected task to be running")
	}
	close(stop)

	select {
	case <-w.Done():
	case <-time.After(time.Second):
		t.Fatal("Expected watcher to finish when the task returns")
	}
	if w.Err() != nil {
		t.Errorf("Expected nil error, got %v", w.Err())
	}
}

func TestConnectionCheck_Text(t *testing.T) {
	tests := []struct {
		text string
		want ConnectionCheck
	}{
		{"none", CheckNone},
		{"", CheckNone},
		{"health", CheckHealth},
		{"Archive", CheckArchive},
	}

	for _, tc := range tests {
		var c ConnectionCheck
		if err := c.UnmarshalText([]byte(tc.text)); err != nil {
			t.Errorf("UnmarshalText(%q) failed: %v", tc.text, err)
			continue
		}
		if c != tc.want {
			t.Errorf("Expected %v for %q, got %v", tc.want, tc.text, c)
		}
	}

	var c ConnectionCheck
	if err := c.UnmarshalText([]byte("liteserver")); err == nil {
		t.Error("Expected error for unknown check")
	}

	out, err := CheckArchive.MarshalText()
	if err != nil || string(out) != "archive" {
		t.Errorf("Expected archive, got %q (%v)", out, err)
	}
	if _, err := ConnectionCheck(9).MarshalText(); err == nil {
		t.Error("Expected error for out of range check")
	}
}
