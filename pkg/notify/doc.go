/*
Package notify fans reconciliation outcomes out to subscribed users
over email, Slack, and Zapier webhooks.

Producers call AddEntry, which deduplicates bursts of the same event
into a single counted entry. The dispatcher scans unsent entries each
tick, matches them against alert profiles, gates each subscriber
through the authorization evaluator, and records a delivery outcome per
destination. Entries are marked sent exactly once; failed deliveries
are recorded, not retried.
*/
package notify
