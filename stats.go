package diskcache

// Stats is a point-in-time view of cache occupancy and activity counters.
type Stats struct {
	Entries                int
	SizeBytes              int64
	MaxSizeBytes           int64
	MaxSizeAfterCleanBytes int64
	MinBytesToClean        int64

	Hits       int64
	Misses     int64
	Writes     int64
	Deletes    int64
	ReadErrors int64 // reads degraded to misses by I/O errors or size mismatches

	CleanupPasses    int64
	Evictions        int64
	BytesEvicted     int64
	EvictionFailures int64
}

// Stats returns current occupancy and cumulative counters.
func (c *Cache) Stats() Stats {
	es := c.engine.Stats()
	cfg := c.engine.Config()
	return Stats{
		Entries:                c.idx.Len(),
		SizeBytes:              c.idx.TotalSize(),
		MaxSizeBytes:           cfg.MaxSize,
		MaxSizeAfterCleanBytes: cfg.MaxSizeAfterClean,
		MinBytesToClean:        cfg.MinBytesToClean,
		Hits:                   c.hits.Load(),
		Misses:                 c.misses.Load(),
		Writes:                 c.writes.Load(),
		Deletes:                c.deletes.Load(),
		ReadErrors:             c.readErrors.Load(),
		CleanupPasses:          es.Passes,
		Evictions:              es.Evicted,
		BytesEvicted:           es.Freed,
		EvictionFailures:       es.Failures,
	}
}
