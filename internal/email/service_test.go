package email

import (
	"strings"
	"testing"
)

func TestServiceIsConfigured(t *testing.T) {
	tests := []struct {
		name     string
		config   Config
		expected bool
	}{
		{
			name:     "empty config",
			config:   Config{},
			expected: false,
		},
		{
			name: "missing host",
			config: Config{
				Port: "587",
				From: "gifts@example.com",
			},
			expected: false,
		},
		{
			name: "missing port",
			config: Config{
				Host: "smtp.example.com",
				From: "gifts@example.com",
			},
			expected: false,
		},
		{
			name: "missing from",
			config: Config{
				Host: "smtp.example.com",
				Port: "587",
			},
			expected: false,
		},
		{
			name: "fully configured",
			config: Config{
				Host: "smtp.example.com",
				Port: "587",
				From: "gifts@example.com",
			},
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(tt.config)
			if svc.IsConfigured() != tt.expected {
				t.Errorf("IsConfigured() = %v, want %v", svc.IsConfigured(), tt.expected)
			}
		})
	}
}

func TestSendFailsWhenNotConfigured(t *testing.T) {
	svc := NewService(Config{})
	if err := svc.SendEmail([]string{"a@example.com"}, "subject", "body"); err == nil {
		t.Error("expected error for unconfigured service")
	}
}

func TestRenderBoughtIdeaRemovedTemplate(t *testing.T) {
	data := BoughtIdeaRemovedData{
		AppName:   "Gift Manager",
		BuyerName: "Carol Jones",
		IdeaName:  "Wool socks",
		ForUser:   "bob",
	}

	html, err := renderTemplate(boughtIdeaRemovedTemplate, data)
	if err != nil {
		t.Fatalf("renderTemplate failed: %v", err)
	}

	if !strings.Contains(html, "Carol Jones") {
		t.Error("template should contain buyer name")
	}
	if !strings.Contains(html, "Wool socks") {
		t.Error("template should contain idea name")
	}
	if !strings.Contains(html, "bob") {
		t.Error("template should contain recipient username")
	}
}

func TestRenderAssignmentTemplate(t *testing.T) {
	data := AssignmentData{
		AppName:   "Gift Manager",
		GiverName: "Alice Smith",
		Receiver:  "bob",
		PoolName:  "xmas2026",
	}

	html, err := renderTemplate(assignmentTemplate, data)
	if err != nil {
		t.Fatalf("renderTemplate failed: %v", err)
	}

	if !strings.Contains(html, "Alice Smith") {
		t.Error("template should contain giver name")
	}
	if !strings.Contains(html, "bob") {
		t.Error("template should contain receiver")
	}
	if !strings.Contains(html, "xmas2026") {
		t.Error("template should contain pool name")
	}
}
