package update

import (
	"errors"
	"strings"
	"testing"
)

const (
	md5Empty   = "d41d8cd98f00b204e9800998ecf8427e"
	sha256Text = "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"
)

func TestRecordDescriptor(t *testing.T) {
	tests := []struct {
		name    string
		record  Record
		want    Descriptor
		wantErr string
	}{
		{
			name:   "mandatory md5",
			record: Record{VersionNo: "v1.2.3", UpdateFlag: "true", FileURL: "https://cdn.example.com/1.2.3.zip", FileMD5: strings.ToUpper(md5Empty)},
			want:   Descriptor{VersionID: "1.2.3", ArchiveURL: "https://cdn.example.com/1.2.3.zip", ExpectedDigest: md5Empty, Mandatory: true},
		},
		{
			name:   "optional sha256 with speed",
			record: Record{VersionNo: "2.0", UpdateFlag: "false", FileURL: "http://10.0.0.1/2.0.zip", FileMD5: sha256Text, Speed: 128},
			want:   Descriptor{VersionID: "2.0", ArchiveURL: "http://10.0.0.1/2.0.zip", ExpectedDigest: sha256Text, ThrottleKBps: 128},
		},
		{
			name:   "unparseable flag is optional",
			record: Record{VersionNo: "3", UpdateFlag: "yes", FileURL: "https://a/3.zip", FileMD5: md5Empty},
			want:   Descriptor{VersionID: "3", ArchiveURL: "https://a/3.zip", ExpectedDigest: md5Empty},
		},
		{
			name:    "missing version",
			record:  Record{FileURL: "https://a/x.zip", FileMD5: md5Empty},
			wantErr: "version: must not be empty",
		},
		{
			name:    "version with path separators",
			record:  Record{VersionNo: "../../etc", FileURL: "https://a/x.zip", FileMD5: md5Empty},
			wantErr: "version:",
		},
		{
			name:    "ftp url",
			record:  Record{VersionNo: "1.0", FileURL: "ftp://a/x.zip", FileMD5: md5Empty},
			wantErr: "url:",
		},
		{
			name:    "short digest",
			record:  Record{VersionNo: "1.0", FileURL: "https://a/x.zip", FileMD5: "abc123"},
			wantErr: "digest:",
		},
		{
			name:    "negative speed",
			record:  Record{VersionNo: "1.0", FileURL: "https://a/x.zip", FileMD5: md5Empty, Speed: -1},
			wantErr: "speed:",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.record.Descriptor()
			if tt.wantErr != "" {
				if err == nil {
					t.Fatalf("expected error containing %q", tt.wantErr)
				}
				if !errors.Is(err, ErrInvalidDescriptor) {
					t.Errorf("error should wrap ErrInvalidDescriptor: %v", err)
				}
				if !strings.Contains(err.Error(), tt.wantErr) {
					t.Errorf("error = %v, want substring %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Descriptor() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Descriptor() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	err := Descriptor{}.Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, field := range []string{"version:", "url:", "digest:"} {
		if !strings.Contains(err.Error(), field) {
			t.Errorf("error should mention %s: %v", field, err)
		}
	}
}

func TestSameArtifact(t *testing.T) {
	base := Descriptor{VersionID: "1.0", ArchiveURL: "https://a/1.0.zip", ExpectedDigest: md5Empty}

	tests := []struct {
		name  string
		other Descriptor
		want  bool
	}{
		{"identical", base, true},
		{"digest case differs", Descriptor{VersionID: "1.0", ArchiveURL: base.ArchiveURL, ExpectedDigest: strings.ToUpper(md5Empty)}, true},
		{"mandatory flag ignored", Descriptor{VersionID: "1.0", ArchiveURL: base.ArchiveURL, ExpectedDigest: md5Empty, Mandatory: true}, true},
		{"different url", Descriptor{VersionID: "1.0", ArchiveURL: "https://b/1.0.zip", ExpectedDigest: md5Empty}, false},
		{"different digest", Descriptor{VersionID: "1.0", ArchiveURL: base.ArchiveURL, ExpectedDigest: sha256Text}, false},
		{"different version", Descriptor{VersionID: "1.1", ArchiveURL: base.ArchiveURL, ExpectedDigest: md5Empty}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := base.SameArtifact(tt.other); got != tt.want {
				t.Errorf("SameArtifact() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBytesPerSecond(t *testing.T) {
	tests := []struct {
		name     string
		kbps     float64
		fallback float64
		want     int64
	}{
		{"descriptor speed", 100, DefaultThrottleKBps, 102400},
		{"fallback default", 0, DefaultThrottleKBps, 629145},
		{"unlimited", 0, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Descriptor{ThrottleKBps: tt.kbps}
			if got := d.BytesPerSecond(tt.fallback); got != tt.want {
				t.Errorf("BytesPerSecond() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestNewerThan(t *testing.T) {
	d := Descriptor{VersionID: "1.2.3"}
	if newer, err := d.NewerThan("1.2.2"); err != nil || !newer {
		t.Errorf("NewerThan(1.2.2) = %v, %v", newer, err)
	}
	if newer, err := d.NewerThan("v1.2.3"); err != nil || newer {
		t.Errorf("NewerThan(v1.2.3) = %v, %v", newer, err)
	}
	if _, err := d.NewerThan("dev"); err == nil {
		t.Error("expected error for unparseable current version")
	}
}
