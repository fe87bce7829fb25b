// Package slabmetrics exports slab allocator statistics as Prometheus metrics.
//
// The collector reads Stats on every scrape. Allocators are not safe for concurrent
// use, so a host that scrapes from another goroutine must share a sync.Locker with
// the code driving the allocator (WithLocker).
package slabmetrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/joshuapare/slabkit/slab"
)

// StatsSource is anything that reports allocator statistics. *slab.Allocator
// satisfies it.
type StatsSource interface {
	GetStats() slab.Stats
}

// Option configures a Collector.
type Option func(*Collector)

// WithNamespace prefixes every metric name. The default is "slab".
func WithNamespace(ns string) Option {
	return func(c *Collector) { c.namespace = ns }
}

// WithConstLabels attaches labels to every metric, typically the allocator's name.
func WithConstLabels(labels prometheus.Labels) Option {
	return func(c *Collector) { c.labels = labels }
}

// WithLocker makes Collect hold l while reading stats.
func WithLocker(l sync.Locker) Option {
	return func(c *Collector) { c.lock = l }
}

// Collector implements prometheus.Collector over a StatsSource.
type Collector struct {
	src       StatsSource
	namespace string
	labels    prometheus.Labels
	lock      sync.Locker

	objectSize    *prometheus.Desc
	pageSize      *prometheus.Desc
	freeObjects   *prometheus.Desc
	objectsInUse  *prometheus.Desc
	pagesInUse    *prometheus.Desc
	mostObjects   *prometheus.Desc
	allocations   *prometheus.Desc
	deallocations *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector builds a collector for src.
func NewCollector(src StatsSource, opts ...Option) *Collector {
	c := &Collector{src: src, namespace: "slab"}
	for _, opt := range opts {
		opt(c)
	}

	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(c.namespace, "", name), help, nil, c.labels)
	}
	c.objectSize = desc("object_size_bytes", "Size of the objects served by the allocator.")
	c.pageSize = desc("page_size_bytes", "Size of one allocator page.")
	c.freeObjects = desc("free_objects", "Blocks currently on the free list.")
	c.objectsInUse = desc("objects_in_use", "Blocks currently handed out.")
	c.pagesInUse = desc("pages_in_use", "Pages currently held by the allocator.")
	c.mostObjects = desc("objects_in_use_peak", "Highest number of blocks in use at once.")
	c.allocations = desc("allocations_total", "Successful allocations.")
	c.deallocations = desc("deallocations_total", "Successful frees.")
	return c
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.objectSize
	ch <- c.pageSize
	ch <- c.freeObjects
	ch <- c.objectsInUse
	ch <- c.pagesInUse
	ch <- c.mostObjects
	ch <- c.allocations
	ch <- c.deallocations
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.lock != nil {
		c.lock.Lock()
	}
	s := c.src.GetStats()
	if c.lock != nil {
		c.lock.Unlock()
	}

	gauge := func(d *prometheus.Desc, v int) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, float64(v))
	}
	gauge(c.objectSize, s.ObjectSize)
	gauge(c.pageSize, s.PageSize)
	gauge(c.freeObjects, s.FreeObjects)
	gauge(c.objectsInUse, s.ObjectsInUse)
	gauge(c.pagesInUse, s.PagesInUse)
	gauge(c.mostObjects, s.MostObjects)
	ch <- prometheus.MustNewConstMetric(c.allocations, prometheus.CounterValue, float64(s.Allocations))
	ch <- prometheus.MustNewConstMetric(c.deallocations, prometheus.CounterValue, float64(s.Deallocations))
}
