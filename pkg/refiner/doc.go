// Package refiner narrows CrashLoopBackOff issues to a root cause using the
// previous container log excerpt collected with the snapshot.
package refiner
