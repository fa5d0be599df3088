package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func resetHealthChecker(version string) {
	healthChecker = &HealthChecker{
		components: make(map[string]ComponentHealth),
		startTime:  time.Now(),
		version:    version,
	}
}

func TestRegisterComponent(t *testing.T) {
	resetHealthChecker("")

	RegisterComponent("control_store", true, "ready")

	if len(healthChecker.components) != 1 {
		t.Errorf("expected 1 component, got %d", len(healthChecker.components))
	}

	comp := healthChecker.components["control_store"]
	if !comp.Healthy {
		t.Error("component should be healthy")
	}
	if comp.Message != "ready" {
		t.Errorf("expected message 'ready', got '%s'", comp.Message)
	}
}

func TestGetHealth_AllHealthy(t *testing.T) {
	resetHealthChecker("1.0.0")

	RegisterComponent("control_store", true, "")
	RegisterComponent("lock_manager", true, "")

	health := GetHealth()

	if health.Status != "healthy" {
		t.Errorf("expected status 'healthy', got '%s'", health.Status)
	}
	if len(health.Components) != 2 {
		t.Errorf("expected 2 components, got %d", len(health.Components))
	}
	if health.Version != "1.0.0" {
		t.Errorf("expected version '1.0.0', got '%s'", health.Version)
	}
}

func TestGetHealth_OneUnhealthy(t *testing.T) {
	resetHealthChecker("")

	RegisterComponent("control_store", true, "")
	RegisterComponent("lock_manager", false, "not connected")

	health := GetHealth()

	if health.Status != "unhealthy" {
		t.Errorf("expected status 'unhealthy', got '%s'", health.Status)
	}
	if health.Components["lock_manager"] != "unhealthy: not connected" {
		t.Errorf("unexpected lock_manager status: %s", health.Components["lock_manager"])
	}
}

func TestGetReadiness_AllReady(t *testing.T) {
	resetHealthChecker("")

	RegisterComponent("lock_manager", true, "")
	RegisterComponent("control_store", true, "")

	if got := GetReadiness().Status; got != "ready" {
		t.Errorf("expected status 'ready', got '%s'", got)
	}
}

func TestGetReadiness_MissingCriticalComponent(t *testing.T) {
	resetHealthChecker("")

	RegisterComponent("control_store", true, "")
	// lock_manager never registered

	readiness := GetReadiness()

	if readiness.Status != "not_ready" {
		t.Errorf("expected status 'not_ready', got '%s'", readiness.Status)
	}
	if readiness.Message == "" {
		t.Error("expected message explaining why not ready")
	}
}

func TestGetReadiness_CriticalComponentUnhealthy(t *testing.T) {
	resetHealthChecker("")

	RegisterComponent("lock_manager", false, "lease not acquired")
	RegisterComponent("control_store", true, "")

	if got := GetReadiness().Status; got != "not_ready" {
		t.Errorf("expected status 'not_ready', got '%s'", got)
	}
}

// GetReadiness must treat a per-tenant "lock_manager:FR" registration
// the same way it treats the bare daemon-wide "lock_manager" key that
// cmd/reconsyncd registers at startup.
func TestGetReadiness_PerTenantComponentSatisfiesPrefix(t *testing.T) {
	resetHealthChecker("")

	RegisterComponent("control_store", true, "")
	RegisterComponent("lock_manager:FR", true, "")

	if got := GetReadiness().Status; got != "ready" {
		t.Errorf("expected status 'ready', got '%s'", got)
	}
}

func TestGetReadiness_OnePerTenantComponentUnhealthyBlocksReadiness(t *testing.T) {
	resetHealthChecker("")

	RegisterComponent("control_store", true, "")
	RegisterComponent("lock_manager:FR", true, "")
	RegisterComponent("lock_manager:DE", false, "lease expired")

	readiness := GetReadiness()

	if readiness.Status != "not_ready" {
		t.Errorf("expected status 'not_ready', got '%s'", readiness.Status)
	}
	if readiness.Components["lock_manager:DE"] != "not ready: lease expired" {
		t.Errorf("unexpected lock_manager:DE status: %s", readiness.Components["lock_manager:DE"])
	}
}

func TestHealthHandler(t *testing.T) {
	resetHealthChecker("test")

	RegisterComponent("control_store", true, "")

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	HealthHandler()(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	var health HealthStatus
	if err := json.NewDecoder(w.Body).Decode(&health); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if health.Status != "healthy" {
		t.Errorf("expected healthy status, got %s", health.Status)
	}
	if health.Version != "test" {
		t.Errorf("expected version 'test', got %s", health.Version)
	}
}

func TestHealthHandler_Unhealthy(t *testing.T) {
	resetHealthChecker("")

	RegisterComponent("control_store", false, "disk full")

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	HealthHandler()(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", w.Code)
	}

	var health HealthStatus
	if err := json.NewDecoder(w.Body).Decode(&health); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if health.Status != "unhealthy" {
		t.Errorf("expected unhealthy status, got %s", health.Status)
	}
}

func TestReadyHandler(t *testing.T) {
	resetHealthChecker("")

	RegisterComponent("lock_manager", true, "")
	RegisterComponent("control_store", true, "")

	req := httptest.NewRequest("GET", "/ready", nil)
	w := httptest.NewRecorder()
	ReadyHandler()(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	var readiness HealthStatus
	if err := json.NewDecoder(w.Body).Decode(&readiness); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if readiness.Status != "ready" {
		t.Errorf("expected ready status, got %s", readiness.Status)
	}
}

func TestReadyHandler_NotReady(t *testing.T) {
	resetHealthChecker("")

	RegisterComponent("control_store", true, "")
	// lock_manager never registered

	req := httptest.NewRequest("GET", "/ready", nil)
	w := httptest.NewRecorder()
	ReadyHandler()(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", w.Code)
	}

	var readiness HealthStatus
	if err := json.NewDecoder(w.Body).Decode(&readiness); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if readiness.Status != "not_ready" {
		t.Errorf("expected not_ready status, got %s", readiness.Status)
	}
}

func TestLivenessHandler(t *testing.T) {
	resetHealthChecker("")

	req := httptest.NewRequest("GET", "/live", nil)
	w := httptest.NewRecorder()
	LivenessHandler()(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	var response map[string]string
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response["status"] != "alive" {
		t.Errorf("expected status 'alive', got '%s'", response["status"])
	}
	if response["uptime"] == "" {
		t.Error("uptime should not be empty")
	}
}

func TestUpdateComponent(t *testing.T) {
	resetHealthChecker("")

	RegisterComponent("control_store", true, "ready")
	UpdateComponent("control_store", false, "connection lost")

	comp := healthChecker.components["control_store"]
	if comp.Healthy {
		t.Error("component should be unhealthy after update")
	}
	if comp.Message != "connection lost" {
		t.Errorf("expected message 'connection lost', got '%s'", comp.Message)
	}
}
