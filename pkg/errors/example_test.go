// Package errors provides examples of structured error handling in fastir.
package errors_test

import (
	"fmt"
	"io"

	"github.com/ajitpratap0/fastir/pkg/errors"
)

// Example demonstrates basic error creation with details.
func Example() {
	err := errors.New(errors.ErrorTypeSourceUnavailable, "dataset not found").
		WithDetail("dataset", "llvm-ml/ComPile").
		WithDetail("split", "train")

	fmt.Println(err.Error())

	// Output:
	// source_unavailable: dataset not found
}

// ExampleWrap shows how to wrap existing errors with context.
func ExampleWrap() {
	err := errors.Wrap(io.ErrUnexpectedEOF, errors.ErrorTypeData, "truncated parquet shard").
		WithDetail("shard", "train/0000.parquet")

	if errors.IsType(err, errors.ErrorTypeData) {
		fmt.Println("This is a data error")
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		fmt.Println("Cause is unexpected EOF")
	}

	// Output:
	// This is a data error
	// Cause is unexpected EOF
}

// ExampleIsRetryable shows which error types a driver may retry.
func ExampleIsRetryable() {
	unavailable := errors.New(errors.ErrorTypeSourceUnavailable, "hub returned 503")
	decode := errors.New(errors.ErrorTypeDecode, "invalid bitcode")

	fmt.Printf("source unavailable retryable: %v\n", errors.IsRetryable(unavailable))
	fmt.Printf("decode retryable: %v\n", errors.IsRetryable(decode))

	// Output:
	// source unavailable retryable: true
	// decode retryable: false
}

// ExampleHasType demonstrates checking types through a chain of wrapped errors.
func ExampleHasType() {
	root := errors.New(errors.ErrorTypeSourceUnavailable, "bucket does not exist")
	wrapped := errors.Wrap(root, errors.ErrorTypeInternal, "pipeline aborted")

	fmt.Printf("outermost is internal: %v\n", errors.IsType(wrapped, errors.ErrorTypeInternal))
	fmt.Printf("outermost is source_unavailable: %v\n", errors.IsType(wrapped, errors.ErrorTypeSourceUnavailable))
	fmt.Printf("chain has source_unavailable: %v\n", errors.HasType(wrapped, errors.ErrorTypeSourceUnavailable))
	fmt.Println(wrapped)

	// Output:
	// outermost is internal: true
	// outermost is source_unavailable: false
	// chain has source_unavailable: true
	// internal: pipeline aborted: source_unavailable: bucket does not exist
}
