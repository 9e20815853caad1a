package stormguard

import (
	"testing"
	"time"
)

const ratesURL = "http://gateway.local:8080/api/rates"

func TestNewWatch_Valid(t *testing.T) {
	w, err := NewWatch("MQTT rate", ratesURL, "total_mqtt_communication.rate")
	if err != nil {
		t.Fatalf("NewWatch() error = %v", err)
	}

	if w.Name() != "MQTT rate" {
		t.Errorf("Name() = %q, want %q", w.Name(), "MQTT rate")
	}
	if w.Endpoint() != ratesURL {
		t.Errorf("Endpoint() = %q, want %q", w.Endpoint(), ratesURL)
	}
	if w.Path() != "total_mqtt_communication.rate" {
		t.Errorf("Path() = %q", w.Path())
	}
	if w.Interval() != 0 {
		t.Errorf("Interval() = %v, want 0", w.Interval())
	}
}

func TestNewWatch_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		wName   string
		url     string
		path    string
		wantErr bool
	}{
		{"empty name", "", ratesURL, "rate", true},
		{"blank name", "   ", ratesURL, "rate", true},
		{"no scheme", "x", "gateway/api", "rate", true},
		{"ftp scheme", "x", "ftp://gateway/api", "rate", true},
		{"no host", "x", "http://", "rate", true},
		{"empty path", "x", ratesURL, "", true},
		{"leading dot", "x", ratesURL, ".rate", true},
		{"trailing dot", "x", ratesURL, "rate.", true},
		{"double dot", "x", ratesURL, "a..b", true},
		{"https", "x", "https://gateway/api", "a.b", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewWatch(tt.wName, tt.url, tt.path)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewWatch() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestWithLabels(t *testing.T) {
	w, err := NewWatch("x", ratesURL, "rate", WithLabels("protocol", "mqtt", "site", "a"))
	if err != nil {
		t.Fatalf("NewWatch() error = %v", err)
	}
	labels := w.Labels()
	if labels["protocol"] != "mqtt" || labels["site"] != "a" {
		t.Errorf("Labels() = %v", labels)
	}
}

func TestWithLabels_OddArgs(t *testing.T) {
	if _, err := NewWatch("x", ratesURL, "rate", WithLabels("protocol")); err == nil {
		t.Error("WithLabels() with odd args should fail")
	}
}

func TestWithLabels_Immutability(t *testing.T) {
	w, _ := NewWatch("x", ratesURL, "rate", WithLabels("protocol", "mqtt"))

	labels := w.Labels()
	labels["protocol"] = "modified"
	labels["extra"] = "added"

	if got := w.Labels(); got["protocol"] != "mqtt" || len(got) != 1 {
		t.Errorf("Labels() mutated through copy: %v", got)
	}
}

func TestWithInterval(t *testing.T) {
	tests := []struct {
		name    string
		d       time.Duration
		wantErr bool
	}{
		{"minimum", 100 * time.Millisecond, false},
		{"typical", 3 * time.Second, false},
		{"maximum", time.Hour, false},
		{"too short", 99 * time.Millisecond, true},
		{"too long", time.Hour + time.Second, true},
		{"zero", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, err := NewWatch("x", ratesURL, "rate", WithInterval(tt.d))
			if (err != nil) != tt.wantErr {
				t.Fatalf("WithInterval(%v) error = %v, wantErr %v", tt.d, err, tt.wantErr)
			}
			if err == nil && w.Interval() != tt.d {
				t.Errorf("Interval() = %v, want %v", w.Interval(), tt.d)
			}
		})
	}
}
