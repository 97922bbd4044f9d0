package redisqueue

import "testing"

func TestNewKeysDefaultsPrefixWhenEmpty(t *testing.T) {
	k := newKeys("")
	if k.prefix != "queuecore:" {
		t.Errorf("prefix = %q, want queuecore:", k.prefix)
	}
}

func TestNewKeysAppendsMissingColon(t *testing.T) {
	k := newKeys("myapp")
	if k.prefix != "myapp:" {
		t.Errorf("prefix = %q, want myapp:", k.prefix)
	}
}

func TestNewKeysKeepsExistingColon(t *testing.T) {
	k := newKeys("myapp:")
	if k.prefix != "myapp:" {
		t.Errorf("prefix = %q, want myapp:", k.prefix)
	}
}

func TestKeyBuildersNamespaceUnderPrefix(t *testing.T) {
	k := newKeys("qc:")

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"job", k.job("abc"), "qc:job:abc"},
		{"duePending", k.duePending("emails"), "qc:due:pending:emails"},
		{"dueRetry", k.dueRetry("emails"), "qc:due:retry:emails"},
		{"processing", k.processing("emails"), "qc:processing:emails"},
		{"completed", k.completed("emails"), "qc:completed:emails"},
		{"failed", k.failed("emails"), "qc:failed:emails"},
		{"idempotency", k.idempotency("emails", "order-1"), "qc:idem:emails:order-1"},
		{"notifyChannel", k.notifyChannel("emails"), "qc:notify:emails"},
		{"scheduleSet", k.scheduleSet(), "qc:schedules"},
		{"schedule", k.schedule("nightly"), "qc:schedule:nightly"},
		{"queueRegistry", k.queueRegistry(), "qc:queues"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %q, want %q", tt.name, tt.got, tt.want)
		}
	}
}
