// Package pagination implements the cursor paging used by MCP list methods.
//
// Cursors are opaque to clients. Internally a cursor encodes the offset of
// the first item of the next page, so a server can page any slice it can
// rebuild in a stable order:
//
//	tools := s.tools.ListTools() // sorted by name
//	page, next, err := pagination.Page(tools, params.Cursor, pageSize)
//	if err != nil {
//	    return nil, err // ErrInvalidCursor
//	}
//	return &protocol.ListToolsResult{
//	    Tools:           page,
//	    PaginatedResult: protocol.PaginatedResult{NextCursor: next},
//	}, nil
//
// An empty NextCursor marks the last page.
package pagination
