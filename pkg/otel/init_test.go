package otel

import "testing"

func TestConfigNormalize(t *testing.T) {
	tests := []struct {
		name     string
		in       Config
		endpoint string
		ratio    float64
		wantEnv  string
	}{
		{"development samples everything", Config{Environment: "development", SampleRatio: 0.2, OTLPEndpoint: "localhost:4317"}, "localhost:4317", 1, "development"},
		{"empty env is development", Config{OTLPEndpoint: "http://collector:4317"}, "collector:4317", 1, "development"},
		{"production keeps ratio", Config{Environment: "production", SampleRatio: 0.25, OTLPEndpoint: "https://collector:4317"}, "collector:4317", 0.25, "production"},
		{"production default ratio", Config{Environment: "production"}, "", defaultSampleRatio, "production"},
		{"out of range ratio", Config{Environment: "staging", SampleRatio: 3}, "", defaultSampleRatio, "staging"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.in.normalize()
			if got.OTLPEndpoint != tt.endpoint || got.SampleRatio != tt.ratio || got.Environment != tt.wantEnv {
				t.Errorf("normalize() = %+v", got)
			}
		})
	}
}
