package config

import "testing"

func TestIdentity(t *testing.T) {
	tests := []struct {
		name     string
		hostname string
		mode     Mode
		jobID    string
		want     string
	}{
		{"hostname only", "Worker01", ModeAll, "", "worker01"},
		{"with mode", "worker01", ModeReport, "", "worker01-report"},
		{"with job id", "worker01", ModeAll, "Job5", "worker01-job5"},
		{"mode and job id", "Worker01", ModeNotification, "Job5", "worker01-notification-job5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Identity(tt.hostname, tt.mode, tt.jobID)
			if got != tt.want {
				t.Errorf("Identity(%q, %q, %q) = %q, want %q", tt.hostname, tt.mode, tt.jobID, got, tt.want)
			}
		})
	}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		raw     string
		want    Mode
		wantErr bool
	}{
		{"", ModeAll, false},
		{"report", ModeReport, false},
		{"reports", ModeReport, false},
		{"notification", ModeNotification, false},
		{"notifications", ModeNotification, false},
		{"NOTIFICATION", ModeNotification, false},
		{"bogus", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := parseMode(tt.raw)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseMode(%q) error = %v, wantErr %v", tt.raw, err, tt.wantErr)
			}
			if err == nil && got != tt.want {
				t.Errorf("parseMode(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestFlagsMode(t *testing.T) {
	f := NewFlagSet("test")
	if err := f.FlagSet.Parse([]string{"--mode", "reports", "--job-id", "5"}); err != nil {
		t.Fatal(err)
	}
	mode, err := f.Mode()
	if err != nil {
		t.Fatal(err)
	}
	if mode != ModeReport {
		t.Errorf("mode = %q, want %q", mode, ModeReport)
	}
	if f.JobID() != "5" {
		t.Errorf("job id = %q, want %q", f.JobID(), "5")
	}
}
