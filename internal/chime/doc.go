// Package chime plays the hourly time signal ("時報") for every tenant.
//
// A tenant is one chat with one audio output. For each tenant the Registry
// keeps at most one recurring task, which sleeps until the next top of the hour
// and then plays the preamble followed by the file for the current hour, and at
// most one pending one-shot task, which does the same exactly once (optionally
// right away) and reports the outcome to a Notifier.
//
// Output sessions are owned by the caller and looked up through a
// SessionSource at fire time, so a tenant that reconnects resumes chiming
// without restarting its task. A session that is busy at the top of the hour
// is left alone: the cycle is skipped, never queued and never preempted.
//
// Nothing that goes wrong inside a cycle (missing files, a player that refuses
// to start, a session that drops mid-sequence, even a panic) ends a recurring
// task. Only cancellation does.
package chime
