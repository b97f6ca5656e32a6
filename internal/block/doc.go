// ABOUTME: Package documentation for execution blocks
// ABOUTME: Describes the block format and how runs report their outcome

// Package block parses and runs execution blocks.
//
// A block is an ordered list of tool calls written in YAML or JSON:
//
//	calls:
//	  - id: hits
//	    tool: memory_search
//	    args: {query: standup}
//	  - tool: skip
//	    if: '{{eq .hits.count 0.0}}'
//
// String arguments and the if and print fields are text/template
// templates. They see the decoded output of earlier calls in the same
// block keyed by call id; print templates also see the current call as
// .result. Nothing is shared between blocks.
//
// Run stops at the first tool error unless the call sets
// continue_on_error, and always stops at the skip tool, the call-count
// limit and the duration limit.
package block
