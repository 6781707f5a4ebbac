package cli

import (
	"context"
	"strconv"

	"github.com/utkarsh5026/fiberpool/scrape"
)

var surveyHeader = []string{"job", "url", "status", "title", "links", "bytes"}

// surveyExtractor writes one row per page: where it came from, its title
// and how many links it carries.
func surveyExtractor(ctx context.Context, job scrape.Job, resp *scrape.Response) ([][]string, error) {
	doc, err := scrape.Document(resp.Body)
	if err != nil {
		return nil, err
	}

	name := job.Name
	if name == "" {
		name = job.Request.URL
	}
	row := []string{
		name,
		resp.URL,
		strconv.Itoa(resp.Status),
		scrape.Title(doc),
		strconv.Itoa(len(scrape.Attrs(doc, "a[href]", "href"))),
		strconv.Itoa(len(resp.Body)),
	}
	return [][]string{row}, nil
}
