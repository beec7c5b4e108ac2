// Package playbook is the business boundary of the responder. It defines the
// Service (classification, dedup, generation, approval and execution
// lifecycle), the Registry of in-flight alerts, the Store interface for
// playbook records, and the domain models.
package playbook
