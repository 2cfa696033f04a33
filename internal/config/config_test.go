package config

import (
	"os"
	"testing"
)

func withEnv(t *testing.T, kv map[string]string) {
	t.Helper()
	for k, v := range kv {
		t.Setenv(k, v)
	}
}

func baseEnv() map[string]string {
	return map[string]string{
		"GRAPH_PASSWORD":    "s3cret",
		"GATEWAY_URL":       "https://gateway.internal",
		"GATEWAY_TOKEN":     "01234567890123456789012345678901",
		"AGENT_HMAC_SECRET": "0123456789012345678901234567890123456789012345678901234567890123",
	}
}

func TestLoadDefaults(t *testing.T) {
	withEnv(t, baseEnv())
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.CycleIntervalMinutes != 5 {
		t.Errorf("CycleIntervalMinutes = %d, want 5", cfg.CycleIntervalMinutes)
	}
	if cfg.TokenCapPerCycle != 8650 {
		t.Errorf("TokenCapPerCycle = %d, want 8650", cfg.TokenCapPerCycle)
	}
	if cfg.GraphURI != "bolt://localhost:7687" {
		t.Errorf("GraphURI = %q, want default", cfg.GraphURI)
	}
}

func TestLoadMissingRequired(t *testing.T) {
	tests := []struct {
		name    string
		missing string
	}{
		{"missing graph password", "GRAPH_PASSWORD"},
		{"missing gateway url", "GATEWAY_URL"},
		{"missing gateway token", "GATEWAY_TOKEN"},
		{"missing hmac secret", "AGENT_HMAC_SECRET"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := baseEnv()
			delete(env, tt.missing)
			for _, k := range []string{"GRAPH_PASSWORD", "GATEWAY_URL", "GATEWAY_TOKEN", "AGENT_HMAC_SECRET"} {
				os.Unsetenv(k)
			}
			withEnv(t, env)
			if _, err := Load(t.TempDir()); err == nil {
				t.Fatalf("Load: expected error for missing %s", tt.missing)
			}
		})
	}
}

func TestLoadShortSecrets(t *testing.T) {
	env := baseEnv()
	env["GATEWAY_TOKEN"] = "tooshort"
	withEnv(t, env)
	if _, err := Load(t.TempDir()); err == nil {
		t.Fatal("Load: expected error for short GATEWAY_TOKEN")
	}
}

func TestValidateGraphURIScheme(t *testing.T) {
	tests := []struct {
		uri     string
		wantErr bool
	}{
		{"bolt://localhost:7687", false},
		{"bolt+s://localhost:7687", false},
		{"neo4j://localhost:7687", false},
		{"neo4j+s://localhost:7687", false},
		{"http://localhost:7687", true},
		{"ftp://localhost:7687", true},
		{"javascript:alert(1)", true},
	}
	for _, tt := range tests {
		err := validateGraphURI(tt.uri)
		if (err != nil) != tt.wantErr {
			t.Errorf("validateGraphURI(%q) error = %v, wantErr %v", tt.uri, err, tt.wantErr)
		}
	}
}

func TestValidateGatewayURLScheme(t *testing.T) {
	tests := []struct {
		u       string
		wantErr bool
	}{
		{"http://127.0.0.1:8080", false},
		{"https://gateway.example.com", false},
		{"ws://gateway.example.com", true},
		{"bolt://localhost", true},
		{"gateway.example.com", true},
	}
	for _, tt := range tests {
		err := validateGatewayURL(tt.u)
		if (err != nil) != tt.wantErr {
			t.Errorf("validateGatewayURL(%q) error = %v, wantErr %v", tt.u, err, tt.wantErr)
		}
	}
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	yamlBody := "token_cap_per_cycle: 4000\nlog_level: debug\n"
	if err := os.WriteFile(ConfigPath(dir), []byte(yamlBody), 0o644); err != nil {
		t.Fatal(err)
	}
	withEnv(t, baseEnv())
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.TokenCapPerCycle != 4000 {
		t.Errorf("TokenCapPerCycle = %d, want 4000 from yaml", cfg.TokenCapPerCycle)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
}
