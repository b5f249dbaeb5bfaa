/*
Package apierrors defines the error taxonomy shared by every package in the
search core: ServiceError, ValidationError, NotFound, Timeout, Cancelled,
PreconditionFailed, and InconsistentShardFailure.

Callers use errors.Is against the package-level sentinels (ErrNotFound,
ErrTimeout, ...) and errors.As against *Error when they need its Kind,
message, or wrapped cause.
Construction helpers (NotFoundf, ValidationErrorf, ...) follow the teacher's
fmt.Errorf("...: %w", err) wrapping convention so a caller can keep chaining
%w around these without losing the sentinel match.
*/
package apierrors
