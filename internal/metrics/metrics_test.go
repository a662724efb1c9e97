// RoomSync - Realtime Watch Room Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSetConnectionState(t *testing.T) {
	SetConnectionState("room-metrics-test", StateConnected)
	if got := testutil.ToFloat64(RoomConnectionState.WithLabelValues("room-metrics-test")); got != StateConnected {
		t.Errorf("connection state = %v, want %v", got, StateConnected)
	}

	SetConnectionState("room-metrics-test", StateError)
	if got := testutil.ToFloat64(RoomConnectionState.WithLabelValues("room-metrics-test")); got != StateError {
		t.Errorf("connection state = %v, want %v", got, StateError)
	}
}

func TestRecordStoreOperation(t *testing.T) {
	before := testutil.ToFloat64(StoreOperationErrors.WithLabelValues("metrics_test_op"))

	RecordStoreOperation("metrics_test_op", 5*time.Millisecond, nil)
	RecordStoreOperation("metrics_test_op", 5*time.Millisecond, errors.New("connection refused"))

	after := testutil.ToFloat64(StoreOperationErrors.WithLabelValues("metrics_test_op"))
	if after-before != 1 {
		t.Errorf("errors delta = %v, want 1", after-before)
	}
}

func TestRecordDedup(t *testing.T) {
	tests := []string{"id", "idempotency_key", "content", "sweep"}
	for _, reason := range tests {
		t.Run(reason, func(t *testing.T) {
			before := testutil.ToFloat64(MessagesDeduplicated.WithLabelValues(reason))
			RecordDedup(reason)
			after := testutil.ToFloat64(MessagesDeduplicated.WithLabelValues(reason))
			if after-before != 1 {
				t.Errorf("dedup[%s] delta = %v, want 1", reason, after-before)
			}
		})
	}
}

func TestRecordApplied(t *testing.T) {
	before := testutil.ToFloat64(MessagesApplied.WithLabelValues("bulk"))
	RecordApplied("bulk", 3)
	RecordApplied("bulk", 0)
	after := testutil.ToFloat64(MessagesApplied.WithLabelValues("bulk"))
	if after-before != 3 {
		t.Errorf("applied delta = %v, want 3", after-before)
	}
}

func TestRecordDispatchAndProfileLookup(t *testing.T) {
	before := testutil.ToFloat64(Dispatches.WithLabelValues("blocked"))
	RecordDispatch("blocked")
	if got := testutil.ToFloat64(Dispatches.WithLabelValues("blocked")) - before; got != 1 {
		t.Errorf("dispatch delta = %v, want 1", got)
	}

	hitBefore := testutil.ToFloat64(ProfileCacheLookups.WithLabelValues("local", "hit"))
	missBefore := testutil.ToFloat64(ProfileCacheLookups.WithLabelValues("local", "miss"))
	RecordProfileLookup("local", true)
	RecordProfileLookup("local", false)
	RecordProfileLookup("local", false)
	if got := testutil.ToFloat64(ProfileCacheLookups.WithLabelValues("local", "hit")) - hitBefore; got != 1 {
		t.Errorf("hit delta = %v, want 1", got)
	}
	if got := testutil.ToFloat64(ProfileCacheLookups.WithLabelValues("local", "miss")) - missBefore; got != 2 {
		t.Errorf("miss delta = %v, want 2", got)
	}
}

func TestRecordAnalysis(t *testing.T) {
	before := testutil.CollectAndCount(AnalysisDuration)
	RecordAnalysis(1200*time.Millisecond, "metrics_test_result")
	if after := testutil.CollectAndCount(AnalysisDuration); after != before+1 {
		t.Errorf("series count = %d, want %d", after, before+1)
	}
}
