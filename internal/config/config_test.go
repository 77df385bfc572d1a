package config

import "testing"

func TestDefault_Values(t *testing.T) {
	c := Default()
	if c == nil {
		t.Fatal("Default() returned nil")
	}
	if c.TaskQueueHighWater != 1000 {
		t.Errorf("TaskQueueHighWater = %v, want 1000", c.TaskQueueHighWater)
	}
	if c.TaskResultTTLSeconds != 3600 {
		t.Errorf("TaskResultTTLSeconds = %v, want 3600", c.TaskResultTTLSeconds)
	}
	if c.MILPTimeLimitSeconds != 10 {
		t.Errorf("MILPTimeLimitSeconds = %v, want 10", c.MILPTimeLimitSeconds)
	}
	if c.SyncSimulationCap != 5000 {
		t.Errorf("SyncSimulationCap = %v, want 5000", c.SyncSimulationCap)
	}
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("WORKER_POOL_SIZE", "4")
	t.Setenv("TASK_QUEUE_HIGHWATER", "50")
	t.Setenv("DB_URL", "test.db")

	c := FromEnv()
	if c.WorkerPoolSize != 4 {
		t.Errorf("WorkerPoolSize = %v, want 4", c.WorkerPoolSize)
	}
	if c.TaskQueueHighWater != 50 {
		t.Errorf("TaskQueueHighWater = %v, want 50", c.TaskQueueHighWater)
	}
	if c.DBURL != "test.db" {
		t.Errorf("DBURL = %v, want test.db", c.DBURL)
	}
}

func TestFromEnv_IgnoresInvalid(t *testing.T) {
	t.Setenv("WORKER_POOL_SIZE", "not-a-number")
	c := FromEnv()
	if c.WorkerPoolSize != Default().WorkerPoolSize {
		t.Errorf("WorkerPoolSize = %v, want default %v", c.WorkerPoolSize, Default().WorkerPoolSize)
	}
}
