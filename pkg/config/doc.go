// Package config assembles the fastir configuration.
//
// Configuration is layered: defaults from Default, then an optional YAML
// file, then FASTIR_* environment variables. Nested keys map to variables by
// upper-casing and replacing dots with underscores:
//
//	corpus.source        -> FASTIR_CORPUS_SOURCE
//	decoder.timeout      -> FASTIR_DECODER_TIMEOUT
//	storage.hub.token    -> FASTIR_STORAGE_HUB_TOKEN (HF_TOKEN is also honoured)
//
// # Environment Variable Substitution
//
// Values in the YAML file may reference the environment with ${VAR_NAME}:
//
//	storage:
//	  s3:
//	    access_key: ${AWS_ACCESS_KEY_ID}
//	    secret_key: ${AWS_SECRET_ACCESS_KEY}
//
// Unset variables expand to the empty string.
//
// # Example File
//
//	corpus:
//	  source: hf://llvm-ml/ComPile
//	  split: train
//	decoder:
//	  command: fastir-decode
//	  args: ["--format", "arrow"]
//	  timeout: 60s
//	output:
//	  destination: s3://features/compile
//	  format: parquet
//	pipeline:
//	  limit: 10000
package config
