package config

import (
	"testing"
	"time"
)

func TestParseTFs(t *testing.T) {
	cases := []struct {
		in   string
		want []int
	}{
		{"60,300,900", []int{60, 300, 900}},
		{" 60 , 300 ", []int{60, 300}},
		{"60,abc,-5,0,300", []int{60, 300}},
		{"", nil},
	}
	for _, tc := range cases {
		c := &Config{EnabledTFs: tc.in}
		got := c.ParseTFs()
		if len(got) != len(tc.want) {
			t.Errorf("ParseTFs(%q) = %v, want %v", tc.in, got, tc.want)
			continue
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Errorf("ParseTFs(%q)[%d] = %d, want %d", tc.in, i, got[i], tc.want[i])
			}
		}
	}
}

func TestParseInstruments(t *testing.T) {
	c := &Config{Instruments: "NSE:NIFTY50, NSE:BANKNIFTY ,bogus,:SYM,EXCH:,"}
	got := c.ParseInstruments()
	if len(got) != 2 {
		t.Fatalf("expected 2 valid instruments, got %v", got)
	}
	if got[0].Exchange != "NSE" || got[0].Symbol != "NIFTY50" {
		t.Errorf("unexpected first instrument: %+v", got[0])
	}
	if got[1].Key() != "NSE:BANKNIFTY" {
		t.Errorf("unexpected second instrument key: %s", got[1].Key())
	}
}

func TestLoadDefaults(t *testing.T) {
	c := Load()
	if c.RedisAddr != "localhost:6379" {
		t.Errorf("unexpected default RedisAddr: %s", c.RedisAddr)
	}
	if c.QueueCapacity != 1024 {
		t.Errorf("unexpected default QueueCapacity: %d", c.QueueCapacity)
	}
	if c.FlushInterval != time.Second {
		t.Errorf("unexpected default FlushInterval: %s", c.FlushInterval)
	}
	if c.DedupTTL != time.Hour {
		t.Errorf("unexpected default DedupTTL: %s", c.DedupTTL)
	}
}

func TestGetEnvOverride(t *testing.T) {
	t.Setenv("QUEUE_CAPACITY", "64")
	t.Setenv("LATE_TOLERANCE", "10s")
	c := Load()
	if c.QueueCapacity != 64 {
		t.Errorf("expected QUEUE_CAPACITY override, got %d", c.QueueCapacity)
	}
	if c.LateTolerance != 10*time.Second {
		t.Errorf("expected LATE_TOLERANCE override, got %s", c.LateTolerance)
	}
}

func TestGetEnvInvalidFallsBack(t *testing.T) {
	t.Setenv("QUEUE_CAPACITY", "not-a-number")
	t.Setenv("FLUSH_INTERVAL", "soon")
	c := Load()
	if c.QueueCapacity != 1024 {
		t.Errorf("expected fallback on invalid int, got %d", c.QueueCapacity)
	}
	if c.FlushInterval != time.Second {
		t.Errorf("expected fallback on invalid duration, got %s", c.FlushInterval)
	}
}
