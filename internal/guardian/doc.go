// Package guardian makes sure a decrypted index never outlives the
// process that decrypted it.
//
// Each running session leaves three things on disk under the state
// directory:
//   - a PID file naming the process and the plaintext folders it owns
//   - a cleanup script for that PID, which deletes the folders once the
//     process is gone and is safe to run any number of times
//   - an OS task (LaunchAgent, scheduled task, or XDG autostart entry)
//     that runs every cleanup script at login and periodically
//
// A graceful shutdown archives the index and calls Unregister. A crash
// leaves the files behind for the next sweep.
package guardian
