// Package models defines data structures for the scraper.
package models

import "time"

// Book is one successfully processed catalog entry.
type Book struct {
	ID        int      `csv:"id" json:"id"`
	Title     string   `csv:"title" json:"title"`
	Author    string   `csv:"author" json:"author"`
	Genres    []string `csv:"genres" json:"genres"`
	Comments  []string `csv:"comments" json:"comments"`
	CoverURL  string   `csv:"img_src" json:"img_src"`
	TextPath  string   `csv:"book_path" json:"book_path,omitempty"`
	CoverPath string   `csv:"img_path" json:"img_path,omitempty"`
}

// RunResult holds the overall result of a scraping run.
type RunResult struct {
	StartTime    time.Time
	EndTime      time.Time
	Requested    int
	Recorded     int
	Failed       int
	FailedIDs    []string
	FailedPages  []int
	ErrorsByType map[string]int
	RetryCount   int
	RequestCount int
	PageCount    int
}
