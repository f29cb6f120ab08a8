// Package fastir extracts inlining features from corpora of compiled LLVM
// modules.
//
// A run pulls compiled units one at a time from a corpus, hands each one to
// an external decoder that answers with an Arrow IPC table of call-site
// features, and stores the tables of the units that decoded. Units the
// decoder rejects are logged and skipped; the run keeps going.
//
// # Architecture
//
// The pipeline has three stages, each behind a small interface:
//
//  1. corpus.Stream: a forward-only, pull-based sequence of units read from
//     the Hugging Face Hub, S3, GCS, local shards or a Kafka topic.
//  2. features.Extractor: runs a features.Decoder on a unit and deserializes
//     its output into a features.Table, or reports the unit as absent.
//  3. sink.Sink: writes one Arrow, Parquet or Avro object per present unit.
//
// internal/pipeline.Runner drives the three stages sequentially and reports
// progress and resource usage while it runs.
//
// # Quick Start
//
//	import (
//	    "context"
//
//	    "github.com/ajitpratap0/fastir/internal/pipeline"
//	    "github.com/ajitpratap0/fastir/pkg/corpus"
//	    "github.com/ajitpratap0/fastir/pkg/features"
//	    "github.com/ajitpratap0/fastir/pkg/sink"
//	    "github.com/ajitpratap0/fastir/pkg/storage"
//	)
//
//	decoder, _ := features.NewCommandDecoder(features.CommandConfig{Command: "inline-features"})
//	extractor := features.NewExtractor(decoder)
//
//	stream, _ := corpus.New(ctx, corpus.DefaultConfig(), storage.Options{}, log)
//	out, _ := sink.New(ctx, sink.DefaultConfig(), storage.Options{}, log)
//	defer out.Close()
//
//	stats, err := pipeline.NewRunner(stream, extractor, out, nil, log).Run(ctx)
//
// # Key Packages
//
//	pkg/corpus             - Corpus streams over shards, the Hub and Kafka
//	pkg/features           - Decoders, the extractor and the feature table
//	pkg/formats/columnar   - Arrow, Parquet and Avro table codecs
//	pkg/sink               - Per-unit feature table persistence
//	pkg/storage            - Local, S3, GCS and Hub object stores
//	pkg/config             - Configuration loading (file, env, defaults)
//	pkg/errors             - Structured error handling
//	pkg/logger             - Structured logging
//	pkg/metrics            - Prometheus metrics
//	pkg/observability      - OpenTelemetry tracing
//
// # Command Line
//
// cmd/fastir exposes the pipeline:
//
//	fastir extract --source llvm-ml/ComPile --decoder inline-features --output s3://bucket/features
//	fastir inspect features/part-000000.arrow
//	fastir config
package fastir
