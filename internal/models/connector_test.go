package models

import (
	"encoding/json"
	"testing"
	"time"
)

func TestParseConnectorProvider(t *testing.T) {
	tests := []struct {
		input   string
		want    ConnectorProvider
		wantErr bool
	}{
		{input: "slack", want: ConnectorProviderSlack},
		{input: "notion", want: ConnectorProviderNotion},
		{input: "github", wantErr: true},
		{input: "", wantErr: true},
		{input: "Slack", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseConnectorProvider(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseConnectorProvider(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestConnectorState(t *testing.T) {
	c := Connector{ID: "c1"}
	if c.State() != ConnectorStateActive {
		t.Errorf("expected active, got %s", c.State())
	}

	now := time.Now()
	c.PausedAt = &now
	if c.State() != ConnectorStatePaused {
		t.Errorf("expected paused, got %s", c.State())
	}
}

func TestSummaryUsesEpochMillis(t *testing.T) {
	started := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	progress := "12 channels"
	c := Connector{
		ID:                "c1",
		Type:              ConnectorProviderSlack,
		WorkspaceID:       "w1",
		DataSourceName:    "managed-slack",
		LastSyncStartTime: &started,
		FirstSyncProgress: &progress,
	}

	b, err := json.Marshal(c.Summary())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if decoded["lastSyncStartTime"].(float64) != float64(started.UnixMilli()) {
		t.Errorf("unexpected lastSyncStartTime: %v", decoded["lastSyncStartTime"])
	}
	if decoded["firstSyncProgress"] != progress {
		t.Errorf("unexpected firstSyncProgress: %v", decoded["firstSyncProgress"])
	}
	if _, ok := decoded["lastSyncStatus"]; ok {
		t.Error("unset lastSyncStatus should be omitted")
	}
	if _, ok := decoded["lastSyncFinishTime"]; ok {
		t.Error("unset lastSyncFinishTime should be omitted")
	}
}

func TestManagedDataSourceName(t *testing.T) {
	if got := ManagedDataSourceName(ConnectorProviderNotion); got != "managed-notion" {
		t.Errorf("unexpected name %q", got)
	}

	id := "c1"
	ds := DataSource{Name: "managed-notion", ConnectorID: &id}
	if !ds.Managed() {
		t.Error("expected managed data source")
	}
	if (DataSource{Name: "docs"}).Managed() {
		t.Error("expected unmanaged data source")
	}
}
