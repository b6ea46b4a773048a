// Package mcp exposes the recommender as MCP tools over stdio.
//
// Tools: assignment_rank, assignment_train, assignment_feedback and
// arm_inspect. Each tool records invocation metrics.
package mcp
