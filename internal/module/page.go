package module

// PageRequest selects one page of a listing. Zero values mean the first page
// with the default size.
type PageRequest struct {
	Number int
	Size   int
}

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

func (p PageRequest) normalized() PageRequest {
	if p.Number < 0 {
		p.Number = 0
	}
	if p.Size <= 0 {
		p.Size = defaultPageSize
	}
	if p.Size > maxPageSize {
		p.Size = maxPageSize
	}
	return p
}

// DefinitionPage is one page of a definition listing.
type DefinitionPage struct {
	Items      []Definition `json:"items"`
	Number     int          `json:"number"`
	Size       int          `json:"size"`
	TotalItems int          `json:"total_items"`
	TotalPages int          `json:"total_pages"`
}

// paginate slices defs according to req. It is applied uniformly after the
// registry read, regardless of which filter produced defs.
func paginate(defs []Definition, req PageRequest) DefinitionPage {
	req = req.normalized()

	total := len(defs)
	pages := (total + req.Size - 1) / req.Size
	if pages == 0 {
		pages = 1
	}

	start := req.Number * req.Size
	if start > total {
		start = total
	}
	end := start + req.Size
	if end > total {
		end = total
	}

	return DefinitionPage{
		Items:      defs[start:end],
		Number:     req.Number,
		Size:       req.Size,
		TotalItems: total,
		TotalPages: pages,
	}
}
