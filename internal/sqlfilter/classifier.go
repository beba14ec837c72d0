// Copyright 2021 FerretDB Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package sqlfilter

import (
	lru "github.com/hashicorp/golang-lru"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/drenlia/easy-kanban-sub014/internal/util/lazyerrors"
)

// DefaultCacheSize is the default number of memoised classifications.
const DefaultCacheSize = 1024

// Classifier is a [Classify] with a bounded cache of results.
//
// It is safe for concurrent use.
type Classifier struct {
	cache *lru.Cache

	hits   prometheus.Counter
	misses prometheus.Counter
}

// NewClassifier creates a new Classifier with the given cache size.
func NewClassifier(size int) (*Classifier, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}

	cache, err := lru.New(size)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	return &Classifier{
		cache: cache,
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dbproxy",
			Subsystem: "classifier",
			Name:      "cache_hits_total",
			Help:      "Total number of classification cache hits.",
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dbproxy",
			Subsystem: "classifier",
			Name:      "cache_misses_total",
			Help:      "Total number of classification cache misses.",
		}),
	}, nil
}

// Classify returns a classification of the given statement.
//
// Returned value is shared and must not be modified.
func (c *Classifier) Classify(sql string) *Classification {
	if v, ok := c.cache.Get(sql); ok {
		c.hits.Inc()
		return v.(*Classification)
	}

	c.misses.Inc()

	res := Classify(sql)
	c.cache.Add(sql, res)

	return res
}

// Len returns the number of cached classifications.
func (c *Classifier) Len() int {
	return c.cache.Len()
}

// Describe implements prometheus.Collector.
func (c *Classifier) Describe(ch chan<- *prometheus.Desc) {
	c.hits.Describe(ch)
	c.misses.Describe(ch)
}

// Collect implements prometheus.Collector.
func (c *Classifier) Collect(ch chan<- prometheus.Metric) {
	c.hits.Collect(ch)
	c.misses.Collect(ch)
}

// check interfaces
var (
	_ prometheus.Collector = (*Classifier)(nil)
)
