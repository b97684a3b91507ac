package interfaces

// PDFService renders generated markdown as PDF bytes. Evidence pack exports
// are its only producer; the markdown is trusted.
type PDFService interface {
	ConvertMarkdownToPDF(markdown, title string) ([]byte, error)
}
