package stats

import (
	"encoding/json"
	"testing"
	"time"
)

func TestPrecisionChange(t *testing.T) {
	stat := DefaultStatsReceiver().(*defaultStatsReceiver)
	if stat.precision != time.Millisecond {
		t.Fatal("Default precision should be millis.")
	}

	statp := stat.Precision(time.Microsecond).(*defaultStatsReceiver)
	if stat.precision != time.Millisecond {
		t.Fatal("Default precision should still be millis.")
	}
	if statp.precision != time.Microsecond {
		t.Fatal("New stat precision should be micros.")
	}
}

func TestScopeChange(t *testing.T) {
	stat := DefaultStatsReceiver().(*defaultStatsReceiver)
	if len(stat.scope) != 0 {
		t.Fatal("Default scope should be empty.")
	}

	statp := stat.Scope("a/b", "c").(*defaultStatsReceiver)
	if len(stat.scope) != 0 {
		t.Fatal("Default scope should still be empty.")
	}
	if len(statp.scope) != 2 || statp.scope[0] != "a_SLASH_b" || statp.scope[1] != "c" {
		t.Fatal("Invalid scope value: ", statp.scope)
	}
	if statp.scopedName("d") != "a_SLASH_b/c/d" {
		t.Fatal("Invalid scope name: " + statp.scopedName("d"))
	}
}

func TestRegister(t *testing.T) {
	reg := NewJSONStatsRegistry()
	if reg.GetOrRegister("counter", NewCounter()) == nil {
		t.Fatal("Registry did not save instrument")
	}
	if reg.GetOrRegister("gauge", NewGauge()) == nil {
		t.Fatal("Registry did not save instrument")
	}
	if reg.GetOrRegister("gaugeFloat", NewGaugeFloat()) == nil {
		t.Fatal("Registry did not save instrument")
	}
	if reg.GetOrRegister("latency", NewLatency()) == nil {
		t.Fatal("Registry did not save instrument")
	}
}

func TestMarshal(t *testing.T) {
	stat := DefaultStatsReceiver()
	stat.Counter("counter").Inc(1)
	stat.Gauge("gauge").Update(2)
	stat.Latency("latency").Update(5 * time.Millisecond)
	stat.Latency("latency").Update(10 * time.Millisecond)

	rendered := map[string]interface{}{}
	if err := json.Unmarshal(stat.Render(false), &rendered); err != nil {
		t.Fatal("Render output should be valid json: ", err)
	}
	if rendered["counter"] != float64(1) {
		t.Fatal("Wrong counter value: ", rendered["counter"])
	}
	if rendered["gauge"] != float64(2) {
		t.Fatal("Wrong gauge value: ", rendered["gauge"])
	}
	if rendered["latency.count"] != float64(2) {
		t.Fatal("Wrong latency count: ", rendered["latency.count"])
	}
	// Display precision is millis by default.
	if rendered["latency.max"] != float64(10) {
		t.Fatal("Wrong latency max: ", rendered["latency.max"])
	}
	if _, ok := rendered["latency.p95"]; !ok {
		t.Fatal("Expected p95 in render output")
	}
}

func TestNilReceiver(t *testing.T) {
	stat := NilStatsReceiver()
	stat.Counter("counter").Inc(1)
	stat.Latency("latency").Update(time.Second)
	if len(stat.Render(false)) != 0 {
		t.Fatal("Nil receiver should render nothing")
	}
}
