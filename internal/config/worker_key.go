package config

type WorkerKeyStruct struct {
	// PendingReconcileQueue holds students whose aggregate could not be
	// reconciled after their semester write succeeded.
	PendingReconcileQueue string
}

var WorkerKey = &WorkerKeyStruct{
	PendingReconcileQueue: "pending_reconcile_queue",
}
