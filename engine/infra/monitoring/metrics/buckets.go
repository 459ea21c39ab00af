package metrics

// RunDurationBuckets are the latency buckets, in seconds, for driver run loops.
var RunDurationBuckets = []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}

// TreeSizeBuckets are the buckets for task counts of a tree.
var TreeSizeBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000}

// HTTPDurationBuckets are the latency buckets, in seconds, for API requests.
var HTTPDurationBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}
