// Package harness runs gateway scenarios end to end and compares their
// event traces with golden files.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	flow_prefix: flow            # optional, flow tokens are flow-1, flow-2, ...
//	containers:
//	  - name: items
//	    settings: |
//	      engines:
//	        - language: sql
//	          driver: sqlite3
//	          dsn: "{{dir}}/items.db"
//	steps:
//	  - params:
//	      schema: items
//	      language: sql
//	      query: select 1 as one
//	    accept: [text/csv]
//	    roles: [user]            # default owner
//	    read_only: false
//	    expect: ok               # ok | usage | forbidden | error
//	    output: "one\r\n1\r\n"   # optional exact result
//	assertions:
//	  - type: trace_order
//	    flow: flow-1
//	    kinds: [received, accepted, executed, completed]
//	  - type: final_state
//	    schema: items
//	    query: select count(*) as n from items
//	    expect: |
//	      n
//	      1
//
// # Assertion Types
//
//   - trace_contains: an event of a kind carries the given attributes
//   - trace_order: kinds appear in order, optionally within one flow
//   - trace_count: a kind appears exactly N times
//   - final_state: a query against a deployed schema yields the given CSV
//
// # Deterministic Testing
//
// Each run gets a private temporary directory for its config store and for
// file-backed containers ({{dir}} in settings). Flow tokens come from a
// fixed generator and seq numbers from a fresh logical clock, so the trace
// of a scenario is identical across runs.
package harness
