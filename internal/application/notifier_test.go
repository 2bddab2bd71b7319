package application_test

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"valetudo-home/internal/application"
)

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	n := &application.LogNotifier{Logger: slog.New(slog.NewTextHandler(&buf, nil))}

	if err := n.Notify(context.Background(), "Scheduled start failed"); err != nil {
		t.Fatalf("Notify error: %v", err)
	}
	if !strings.Contains(buf.String(), `message="Scheduled start failed"`) {
		t.Errorf("log output: %s", buf.String())
	}
}
