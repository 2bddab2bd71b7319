package pushover_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"valetudo-home/internal/infra/pushover"
)

func TestClient_Notify(t *testing.T) {
	var form map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parsing form: %v", err)
		}
		form = map[string]string{
			"token":   r.PostForm.Get("token"),
			"user":    r.PostForm.Get("user"),
			"message": r.PostForm.Get("message"),
			"title":   r.PostForm.Get("title"),
		}
		w.Write([]byte(`{"status":1}`))
	}))
	defer server.Close()

	client := pushover.NewClientWithURL("app-token", "user-key", "", server.URL)
	if err := client.Notify(context.Background(), "Scheduled start failed"); err != nil {
		t.Fatalf("Notify error: %v", err)
	}

	if form["message"] != "Scheduled start failed" || form["title"] != "Valetudo" || form["user"] != "user-key" {
		t.Errorf("form: got %v", form)
	}
}

func TestClient_NotifyError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid token", http.StatusBadRequest)
	}))
	defer server.Close()

	client := pushover.NewClientWithURL("bad", "user-key", "Robot", server.URL)
	if err := client.Notify(context.Background(), "hello"); err == nil {
		t.Error("want error for 400 response")
	}
}

func TestClient_NotifyUnconfigured(t *testing.T) {
	client := pushover.NewClientWithURL("", "", "", "http://127.0.0.1:1")
	if err := client.Notify(context.Background(), "hello"); err != nil {
		t.Errorf("unconfigured Notify error: %v", err)
	}
}
