package datatable

// Paginate slices the 1-based page of size rows. Pages below 1 map to the
// first page and a size of 0 or less returns every row.
func Paginate(rows []Row, page, size int) []Row {
	if size <= 0 {
		return rows
	}
	start, end := 0, size
	if page > 1 {
		start = (page - 1) * size
		end = page * size
	}
	start = min(start, len(rows))
	end = min(end, len(rows))
	return rows[start:end]
}

// PageCount is the number of pages n rows fill; never less than one.
func PageCount(n, size int) int {
	if size <= 0 || n <= 0 {
		return 1
	}
	return (n + size - 1) / size
}

// ClampPage moves page into [1, PageCount(n, size)].
func ClampPage(page, n, size int) int {
	return max(1, min(page, PageCount(n, size)))
}
