package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestBytes_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "payload")
	}))
	defer srv.Close()

	data, err := Bytes(context.Background(), srv.URL, Options{})
	if err != nil {
		t.Fatalf("bytes: %v", err)
	}
	if string(data) != "payload" {
		t.Errorf("data = %q", data)
	}
}

func TestBytes_ExtraHeaders(t *testing.T) {
	var gotReferer, gotOrigin string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotReferer = r.Header.Get("Referer")
		gotOrigin = r.Header.Get("Origin")
	}))
	defer srv.Close()

	_, err := Bytes(context.Background(), srv.URL, Options{
		Headers: map[string]string{
			"Referer": "https://www.bilibili.com",
			"Origin":  "https://www.bilibili.com",
		},
	})
	if err != nil {
		t.Fatalf("bytes: %v", err)
	}
	if gotReferer != "https://www.bilibili.com" || gotOrigin != "https://www.bilibili.com" {
		t.Errorf("headers transmis : referer=%q origin=%q", gotReferer, gotOrigin)
	}
}

func TestBytes_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := Bytes(context.Background(), srv.URL, Options{})
	if !errors.Is(err, ErrStatus) {
		t.Errorf("err = %v; want ErrStatus", err)
	}
}

func TestBytes_TooLarge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, strings.Repeat("x", 64))
	}))
	defer srv.Close()

	_, err := Bytes(context.Background(), srv.URL, Options{MaxBytes: 16})
	if !errors.Is(err, ErrTooLarge) {
		t.Errorf("err = %v; want ErrTooLarge", err)
	}
}

func TestBytes_InvalidURL(t *testing.T) {
	if _, err := Bytes(context.Background(), "pas une url", Options{}); err == nil {
		t.Error("expected error for invalid url")
	}
}

func TestJSON_Decode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"code":0,"message":"ok"}`)
	}))
	defer srv.Close()

	type envelope struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	got, err := JSON[envelope](context.Background(), srv.URL, Options{})
	if err != nil {
		t.Fatalf("json: %v", err)
	}
	if got.Code != 0 || got.Message != "ok" {
		t.Errorf("got %+v", got)
	}
}

func TestJSON_MalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"code":`)
	}))
	defer srv.Close()

	if _, err := JSON[map[string]any](context.Background(), srv.URL, Options{}); err == nil {
		t.Error("expected decode error")
	}
}
