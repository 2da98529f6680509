// Package sym defines canonical glyphs for TreePro subsystems. These
// symbols are stable across CLI output and logs; pick by subsystem, not
// by mood.
package sym

const (
	Job    = "⚒" // job lifecycle operations
	Rule   = "⟳" // automation rules and runs
	Series = "✦" // recurrence series and instances
	Bill   = "⊞" // clients and invoices
	DB     = "⛁" // database operations
	Stream = "⇶" // websocket event stream
	Config = "≡" // configuration
)
