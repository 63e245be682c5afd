/*
Package lifecycle drives deferred provider actions for servers and apps.

An action is requested synchronously against the provider gateway; when
the provider answers "in-progress" the entity records the action name,
the provider's correlation token, and the in-progress status together,
and the reconciler polls until completion. Completion clears all the
action fields atomically and writes an explicit terminal state.

Requests that fail at the provider leave the entity idle with the error
surfaced on it; nothing retries automatically.
*/
package lifecycle
