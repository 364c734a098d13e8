package invoice

import (
	"context"
	"errors"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/invoice-tracker/internal/scanning"
)

const acmeText = "Acme Corp\nInvoice INV-000123\nDate: 01/15/2024\nTotal: 100.00"

var _ = Describe("Service", func() {
	var (
		db      *mockDB
		storage *mockStorage
		scanner *mockScanner
		idGen   *mockIDGenerator
		timeSrc *mockTimeSource
		service *Service
		ctx     context.Context
	)

	BeforeEach(func() {
		db = newMockDB()
		storage = newMockStorage()
		scanner = newMockScanner(acmeText)
		idGen = &mockIDGenerator{id: "test-id-123"}
		timeSrc = &mockTimeSource{now: time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)}
		service = NewServiceWithDeps(db, scanner, storage, idGen, timeSrc)
		ctx = context.Background()
	})

	Describe("Assemble", func() {
		var (
			filename string
			data     []byte
			assembly *Assembly
			err      error
		)

		BeforeEach(func() {
			filename = "invoice.png"
			data = []byte("document A")
		})

		JustBeforeEach(func() {
			assembly, err = service.Assemble(ctx, 1, filename, data)
		})

		When("extraction succeeds", func() {
			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("extracts the fields", func() {
				Expect(assembly.Fields).To(Equal(FieldSet{
					Date:        "01/15/2024",
					Vendor:      "Acme Corp Invoice",
					InvoiceID:   "INV-000123",
					TotalAmount: "100.00",
				}))
			})

			It("fingerprints bytes and text", func() {
				Expect(assembly.Fingerprint).To(Equal(NewFingerprint(data, acmeText)))
			})

			It("reports no duplicates", func() {
				Expect(assembly.Match.Kind).To(Equal(NoMatch))
			})

			It("validates the fields", func() {
				Expect(assembly.Validation.Valid).To(BeTrue())
			})

			It("does not store anything", func() {
				Expect(db.invoices).To(BeEmpty())
				Expect(storage.files).To(BeEmpty())
			})
		})

		When("the document has several pages", func() {
			BeforeEach(func() {
				scanner.pages = []string{"Acme Corp\n01/15/2024", "Globex Inc\nInvoice INV-999999"}
			})

			It("joins the pages with a break marker", func() {
				Expect(assembly.RawText).To(Equal("Acme Corp\n01/15/2024" + PageBreak + "Globex Inc\nInvoice INV-999999"))
				Expect(assembly.PageCount).To(Equal(2))
			})

			It("only extracts fields from the first page", func() {
				Expect(assembly.Fields.Vendor).To(Equal("Acme Corp"))
				Expect(assembly.Fields.InvoiceID).To(BeEmpty())
			})
		})

		When("no pages come back", func() {
			BeforeEach(func() {
				scanner.pages = nil
			})

			It("returns ErrNoPages", func() {
				Expect(err).To(MatchError(ErrNoPages))
			})
		})

		When("the scanner fails on a PDF", func() {
			BeforeEach(func() {
				filename = "invoice.pdf"
				scanner.scanErr = scanning.WrapExtraction(filename, errors.New("corrupt xref"))
			})

			It("preserves the cause", func() {
				Expect(err).To(MatchError(scanning.ErrPDFProcessing))
				Expect(err.Error()).To(ContainSubstring("corrupt xref"))
			})
		})

		When("the scanner fails on an image", func() {
			BeforeEach(func() {
				scanner.scanErr = scanning.WrapExtraction(filename, errors.New("bad header"))
			})

			It("reports an image failure", func() {
				Expect(err).To(MatchError(scanning.ErrImageProcessing))
			})
		})

		When("the text matches no patterns", func() {
			BeforeEach(func() {
				scanner.pages = []string{"~~ ## %%"}
			})

			It("still succeeds with empty fields", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(assembly.Fields).To(Equal(FieldSet{}))
				Expect(assembly.Validation.Valid).To(BeFalse())
			})
		})
	})

	Describe("ProcessInvoice", func() {
		var (
			filename string
			data     []byte
			inv      *Invoice
			assembly *Assembly
			err      error
		)

		BeforeEach(func() {
			filename = "invoice.png"
			data = []byte("document A")
		})

		JustBeforeEach(func() {
			inv, assembly, err = service.ProcessInvoice(ctx, 1, filename, data, "image/png", "office supplies")
		})

		When("processing succeeds", func() {
			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("assigns an id", func() {
				Expect(inv.ID).To(Equal(uint64(1)))
			})

			It("saves the file under the user's prefix", func() {
				Expect(inv.FilePath).To(Equal("1/test-id-123_invoice.png"))
				Expect(storage.files).To(HaveKeyWithValue("1/test-id-123_invoice.png", data))
			})

			It("records metadata", func() {
				Expect(inv.UserID).To(Equal(uint64(1)))
				Expect(inv.Filename).To(Equal("invoice.png"))
				Expect(inv.UploadTime).To(Equal(timeSrc.now))
				Expect(inv.ContentType).To(Equal("image/png"))
				Expect(inv.Notes).To(Equal("office supplies"))
				Expect(inv.ImageHash).To(Equal(ImageHash(data)))
				Expect(inv.TextFingerprint).To(Equal(TextFingerprint(acmeText)))
			})

			It("stores the extracted fields", func() {
				Expect(inv.Fields.FieldSet).To(Equal(assembly.Fields))
				Expect(inv.Fields.PageCount).To(Equal(1))
				Expect(inv.Fields.Duplicates).To(BeEmpty())
				Expect(inv.Fields.Validation.Valid).To(BeTrue())
			})

			It("saves the invoice to the database", func() {
				Expect(db.invoices).To(HaveKey(uint64(1)))
			})
		})

		When("the text is long", func() {
			BeforeEach(func() {
				scanner.pages = []string{strings.Repeat("x", 1500)}
			})

			It("truncates the stored text and snippet", func() {
				Expect(inv.RawText).To(HaveLen(maxRawTextLen))
				Expect(inv.Fields.RawText).To(HaveLen(maxSnippetLen))
			})
		})

		When("storage save fails", func() {
			var setupErr error

			BeforeEach(func() {
				setupErr = errors.New("storage error")
				storage.saveErr = setupErr
			})

			It("returns the error", func() {
				Expect(err).To(MatchError(setupErr))
			})

			It("does not save the invoice", func() {
				Expect(db.invoices).To(BeEmpty())
			})
		})

		When("database save fails", func() {
			var setupErr error

			BeforeEach(func() {
				setupErr = errors.New("database error")
				db.createErr = setupErr
			})

			It("returns the error", func() {
				Expect(err).To(MatchError(setupErr))
			})

			It("cleans up the saved file", func() {
				Expect(storage.files).To(BeEmpty())
			})
		})

		When("the scanner fails", func() {
			BeforeEach(func() {
				scanner.scanErr = scanning.WrapExtraction(filename, errors.New("bad header"))
			})

			It("returns the error", func() {
				Expect(err).To(MatchError(scanning.ErrImageProcessing))
			})

			It("does not save the file", func() {
				Expect(storage.files).To(BeEmpty())
			})
		})

		When("the same document is submitted twice", func() {
			var first *Invoice

			BeforeEach(func() {
				var e error
				first, _, e = service.ProcessInvoice(ctx, 1, filename, data, "image/png", "")
				Expect(e).NotTo(HaveOccurred())
			})

			It("still saves the second copy", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(db.invoices).To(HaveLen(2))
			})

			It("reports the first as an exact content duplicate", func() {
				Expect(assembly.Match.Kind).To(Equal(ExactContent))
				Expect(assembly.Match.IDs()).To(Equal([]uint64{first.ID}))
				Expect(inv.Fields.Duplicates).To(Equal([]uint64{first.ID}))
			})
		})
	})

	Describe("duplicate scenarios", func() {
		var first *Invoice

		BeforeEach(func() {
			var err error
			first, _, err = service.ProcessInvoice(ctx, 1, "a.png", []byte("document A"), "image/png", "")
			Expect(err).NotTo(HaveOccurred())
		})

		It("finds a byte-identical resubmission through content", func() {
			assembly, err := service.Assemble(ctx, 1, "renamed.png", []byte("document A"))
			Expect(err).NotTo(HaveOccurred())
			Expect(assembly.Match.Kind).To(Equal(ExactContent))
			Expect(assembly.Match.IDs()).To(Equal([]uint64{first.ID}))
		})

		It("finds a rescan with the same text through the text fingerprint", func() {
			assembly, err := service.Assemble(ctx, 1, "b.png", []byte("document B"))
			Expect(err).NotTo(HaveOccurred())
			Expect(assembly.Match.Kind).To(Equal(ExactText))
			Expect(assembly.Match.IDs()).To(Equal([]uint64{first.ID}))
		})

		It("finds a differently read copy through the fields", func() {
			scanner.pages = []string{"Acme Corp\nInvoice INV-000123\nDated 01/15/2024\nTotal: 101.50"}
			assembly, err := service.Assemble(ctx, 1, "c.png", []byte("document C"))
			Expect(err).NotTo(HaveOccurred())
			Expect(assembly.Match.Kind).To(Equal(FuzzyField))
			Expect(assembly.Match.IDs()).To(Equal([]uint64{first.ID}))
		})

		It("does not look at other users", func() {
			assembly, err := service.Assemble(ctx, 2, "a.png", []byte("document A"))
			Expect(err).NotTo(HaveOccurred())
			Expect(assembly.Match.Kind).To(Equal(NoMatch))
		})
	})

	Describe("GetInvoice", func() {
		BeforeEach(func() {
			db.invoices[5] = &Invoice{ID: 5, UserID: 1, Filename: "x.pdf"}
		})

		It("returns the user's invoice", func() {
			inv, err := service.GetInvoice(1, 5)
			Expect(err).NotTo(HaveOccurred())
			Expect(inv.Filename).To(Equal("x.pdf"))
		})

		It("hides other users' invoices", func() {
			_, err := service.GetInvoice(2, 5)
			Expect(err).To(MatchError(ErrNotFound))
		})
	})

	Describe("ListInvoices", func() {
		When("listing fails", func() {
			It("returns the error", func() {
				setupErr := errors.New("list error")
				db.listErr = setupErr
				_, err := service.ListInvoices(1)
				Expect(err).To(MatchError(setupErr))
			})
		})

		It("returns newest first", func() {
			db.invoices[1] = &Invoice{ID: 1, UserID: 1}
			db.invoices[2] = &Invoice{ID: 2, UserID: 1}
			invoices, err := service.ListInvoices(1)
			Expect(err).NotTo(HaveOccurred())
			Expect(invoices[0].ID).To(Equal(uint64(2)))
		})
	})

	Describe("GetInvoiceFile", func() {
		BeforeEach(func() {
			db.invoices[5] = &Invoice{ID: 5, UserID: 1, FilePath: "1/a.pdf", ContentType: "application/pdf"}
			storage.files["1/a.pdf"] = []byte("%PDF")
		})

		It("returns the bytes and content type", func() {
			data, contentType, err := service.GetInvoiceFile(1, 5)
			Expect(err).NotTo(HaveOccurred())
			Expect(data).To(Equal([]byte("%PDF")))
			Expect(contentType).To(Equal("application/pdf"))
		})

		It("returns storage errors", func() {
			storage.getErr = errors.New("disk error")
			_, _, err := service.GetInvoiceFile(1, 5)
			Expect(err).To(MatchError(storage.getErr))
		})
	})

	Describe("GetInvoiceText", func() {
		It("names the download after the upload", func() {
			db.invoices[5] = &Invoice{ID: 5, UserID: 1, Filename: "march invoice.pdf", RawText: "Acme"}
			text, name, err := service.GetInvoiceText(1, 5)
			Expect(err).NotTo(HaveOccurred())
			Expect(text).To(Equal("Acme"))
			Expect(name).To(Equal("march invoice_extracted.txt"))
		})
	})

	Describe("DeleteInvoices", func() {
		var (
			ids []uint64
			err error
		)

		BeforeEach(func() {
			db.invoices[1] = &Invoice{ID: 1, UserID: 1, FilePath: "1/a.png"}
			db.invoices[2] = &Invoice{ID: 2, UserID: 1, FilePath: "1/b.png"}
			db.invoices[3] = &Invoice{ID: 3, UserID: 2, FilePath: "2/c.png"}
			for _, key := range []string{"1/a.png", "1/b.png", "2/c.png"} {
				storage.files[key] = []byte(key)
			}
			ids = []uint64{1, 3, 99}
		})

		JustBeforeEach(func() {
			err = service.DeleteInvoices(1, ids)
		})

		It("deletes the user's invoices and files", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(db.invoices).NotTo(HaveKey(uint64(1)))
			Expect(storage.files).NotTo(HaveKey("1/a.png"))
		})

		It("leaves other users' invoices alone", func() {
			Expect(db.invoices).To(HaveKey(uint64(3)))
			Expect(storage.files).To(HaveKey("2/c.png"))
		})

		It("leaves unlisted invoices alone", func() {
			Expect(db.invoices).To(HaveKey(uint64(2)))
		})

		When("the file is already gone", func() {
			BeforeEach(func() {
				storage.deleteErr = errors.New("file not found")
			})

			It("still deletes the record", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(db.invoices).NotTo(HaveKey(uint64(1)))
			})
		})

		When("no ids are given", func() {
			BeforeEach(func() {
				ids = nil
			})

			It("returns an error", func() {
				Expect(err).To(HaveOccurred())
			})
		})
	})

	Describe("ExportInvoices", func() {
		It("renders a workbook", func() {
			db.invoices[1] = &Invoice{ID: 1, UserID: 1, Filename: "a.png"}
			data, err := service.ExportInvoices(1)
			Expect(err).NotTo(HaveOccurred())
			Expect(data).NotTo(BeEmpty())
		})
	})
})

var _ = Describe("sanitizeFilename", func() {
	DescribeTable("cleaning names",
		func(input, expected string) {
			Expect(sanitizeFilename(input)).To(Equal(expected))
		},
		Entry("plain name", "invoice.pdf", "invoice.pdf"),
		Entry("special characters", "inv@#$oice (1).png", "invoice 1.png"),
		Entry("path components", "../../etc/passwd", "passwd"),
		Entry("nothing left", "@@@.jpg", "invoice.jpg"),
		Entry("long names", strings.Repeat("a", 80)+".heic", strings.Repeat("a", 50)+".heic"),
	)
})
