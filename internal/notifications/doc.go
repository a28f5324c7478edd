// Package notifications tells operators about job outcomes.
//
// The default implementation posts to the ntfy topic from
// [notifications].ntfy_topic and degrades to a no-op when the topic is empty.
// Workflow code depends only on the Service interface.
package notifications
