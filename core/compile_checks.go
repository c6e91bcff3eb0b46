package core

import glog "github.com/goliatone/go-logger/glog"

var (
	_ AdapterRegistry  = (*ProviderAdapterRegistry)(nil)
	_ EventStore       = (*MemoryEventStore)(nil)
	_ IdempotencyStore = (*MemoryIdempotencyStore)(nil)
	_ BranchResolver   = (*MemoryMappingStore)(nil)
	_ ProductResolver  = (*MemoryMappingStore)(nil)
	_ MappingWriter    = (*MemoryMappingStore)(nil)
	_ MetricsRecorder  = NopMetricsRecorder{}

	_ Logger         = glog.Nop()
	_ LoggerProvider = glog.ProviderFromLogger(glog.Nop())
)
