package kafka

import (
	"strings"
	"testing"
)

func TestClusterConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ClusterConfig
		wantErr string
	}{
		{
			name: "valid minimal config",
			cfg: ClusterConfig{
				Brokers: []string{"localhost:9092"},
			},
		},
		{
			name: "valid with SCRAM-SHA-512",
			cfg: ClusterConfig{
				Brokers: []string{"localhost:9092"},
				Auth: AuthConfig{
					Mechanism: "SCRAM-SHA-512",
					Username:  "user",
					Password:  "pass",
				},
			},
		},
		{
			name: "valid with mTLS",
			cfg: ClusterConfig{
				Brokers: []string{"localhost:9092"},
				TLS: TLSConfig{
					Enabled:  true,
					CertFile: "/path/to/cert.pem",
					KeyFile:  "/path/to/key.pem",
				},
			},
		},
		{
			name:    "missing brokers",
			cfg:     ClusterConfig{},
			wantErr: "brokers are required",
		},
		{
			name:    "blank broker",
			cfg:     ClusterConfig{Brokers: []string{"localhost:9092", " "}},
			wantErr: "brokers[1] is empty",
		},
		{
			name: "invalid auth mechanism",
			cfg: ClusterConfig{
				Brokers: []string{"localhost:9092"},
				Auth: AuthConfig{
					Mechanism: "GSSAPI",
					Username:  "user",
					Password:  "pass",
				},
			},
			wantErr: `auth.mechanism "GSSAPI" is not valid`,
		},
		{
			name: "auth mechanism without username",
			cfg: ClusterConfig{
				Brokers: []string{"localhost:9092"},
				Auth: AuthConfig{
					Mechanism: "PLAIN",
					Password:  "pass",
				},
			},
			wantErr: "auth.username is required",
		},
		{
			name: "auth mechanism without password",
			cfg: ClusterConfig{
				Brokers: []string{"localhost:9092"},
				Auth: AuthConfig{
					Mechanism: "PLAIN",
					Username:  "user",
				},
			},
			wantErr: "auth.password is required",
		},
		{
			name: "TLS certFile without keyFile",
			cfg: ClusterConfig{
				Brokers: []string{"localhost:9092"},
				TLS:     TLSConfig{Enabled: true, CertFile: "/path/to/cert.pem"},
			},
			wantErr: "tls.keyFile is required",
		},
		{
			name: "TLS keyFile without certFile",
			cfg: ClusterConfig{
				Brokers: []string{"localhost:9092"},
				TLS:     TLSConfig{Enabled: true, KeyFile: "/path/to/key.pem"},
			},
			wantErr: "tls.certFile is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Errorf("Validate() error = nil, want error containing %q", tt.wantErr)
			} else if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestClusterConfig_Validate_ReportsAllProblems(t *testing.T) {
	cfg := ClusterConfig{Auth: AuthConfig{Mechanism: "PLAIN"}}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"brokers are required", "auth.username", "auth.password"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected %q in %v", want, err)
		}
	}
}

func TestProducerConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ProducerConfig
		wantErr string
	}{
		{name: "defaults", cfg: ProducerConfig{}},
		{name: "zstd leader", cfg: ProducerConfig{Compression: "zstd", Acks: "leader"}},
		{name: "bad compression", cfg: ProducerConfig{Compression: "brotli"}, wantErr: `compression "brotli"`},
		{name: "bad acks", cfg: ProducerConfig{Acks: "1"}, wantErr: `acks "1"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}
