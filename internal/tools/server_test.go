package tools

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/haasonsaas/reviewd/pkg/models"
)

func serverToolFixture(t *testing.T, handler http.HandlerFunc) *ServerTool {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewServerTool(models.ToolDescriptor{
		ID:             "hosted-lint",
		SupportedRoles: []models.AgentRole{models.RoleCodeQuality},
	}, srv.URL, WithHTTPClient(srv.Client()))
}

func TestServerToolExecute(t *testing.T) {
	tool := serverToolFixture(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/execute" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var ac models.AnalysisContext
		if err := json.NewDecoder(r.Body).Decode(&ac); err != nil {
			t.Errorf("decode context: %v", err)
		}
		json.NewEncoder(w).Encode(models.ToolResult{
			ToolID:  "hosted-lint",
			Success: true,
			Findings: []models.Finding{
				{Kind: models.FindingIssue, Severity: models.SeverityLow, Category: "style", Message: "long line"},
			},
		})
	})

	result, err := tool.Execute(context.Background(), &models.AnalysisContext{
		Repository: &models.Repository{ID: "r1", URL: "https://github.com/acme/api"},
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !result.Success || len(result.Findings) != 1 {
		t.Errorf("result = %+v", result)
	}
}

func TestServerToolRejectsMalformedOutput(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", "linted 4 files, all good"},
		{"missing tool_id", `{"success": true}`},
		{"bad severity", `{"tool_id": "hosted-lint", "success": true, "findings": [{"kind": "issue", "severity": "catastrophic", "message": "x"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tool := serverToolFixture(t, func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			})
			_, err := tool.Execute(context.Background(), &models.AnalysisContext{Repository: &models.Repository{ID: "r1"}})
			if !errors.Is(err, ErrMalformedOutput) {
				t.Errorf("got %v, want ErrMalformedOutput", err)
			}
		})
	}
}

func TestServerToolRejectsMismatchedToolID(t *testing.T) {
	tool := serverToolFixture(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(models.ToolResult{ToolID: "impostor", Success: true})
	})
	_, err := tool.Execute(context.Background(), &models.AnalysisContext{Repository: &models.Repository{ID: "r1"}})
	if !errors.Is(err, ErrMalformedOutput) {
		t.Errorf("got %v, want ErrMalformedOutput", err)
	}
}

func TestServerToolUnavailable(t *testing.T) {
	tool := serverToolFixture(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "restarting", http.StatusServiceUnavailable)
	})
	_, err := tool.Execute(context.Background(), &models.AnalysisContext{Repository: &models.Repository{ID: "r1"}})
	if !errors.Is(err, ErrToolUnavailable) {
		t.Errorf("Execute() error = %v, want ErrToolUnavailable", err)
	}
	if err := tool.HealthCheck(context.Background()); !errors.Is(err, ErrToolUnavailable) {
		t.Errorf("HealthCheck() error = %v, want ErrToolUnavailable", err)
	}
}
