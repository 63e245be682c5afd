/*
Package types defines the core entities of the Paddock control plane:
servers, apps, teams, permission definitions and assignments, log entries,
and alert profiles.

Servers and apps carry deferred-action state (CurrentState, ActionStatus,
Action, ActionID) that the reconciler advances across ticks. The invariant
is that ActionStatus equals "in-progress" exactly when Action and ActionID
are both non-empty; all three are set and cleared together.

Teams and permission assignments form the authorization model: a
non-owner, non-admin user may act on an entity only through a granted
(team, user, permission) row where the team is assigned to the entity.
*/
package types
