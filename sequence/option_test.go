package sequence

import "testing"

func TestOptions(t *testing.T) {
	o := newOptions()
	if o.retry.MaxRetries != DefaultMaxRetries {
		t.Errorf("default max retries = %d", o.retry.MaxRetries)
	}
	if o.logger == nil {
		t.Error("default logger not set")
	}

	o = newOptions(WithMaxRetries(-1), WithLogger(nil), WithBackoff(0, 0))
	if o.retry.MaxRetries != DefaultMaxRetries || o.logger == nil || o.retry.InitialBackoff != 0 {
		t.Error("invalid options should be ignored")
	}

	o = newOptions(WithMaxRetries(0))
	if o.retry.MaxRetries != 0 {
		t.Errorf("WithMaxRetries(0) = %d", o.retry.MaxRetries)
	}
}
