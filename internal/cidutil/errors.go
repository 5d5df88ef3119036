package cidutil

import "errors"

// ErrUnexpectedCodec is returned by Parse for identifiers that do not name raw bytes.
var ErrUnexpectedCodec = errors.New("cidutil: transaction id must use the raw codec")
