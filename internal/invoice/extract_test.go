package invoice

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Normalize", func() {
	It("collapses whitespace runs into single spaces", func() {
		Expect(Normalize("Acme   Corp\n\nInvoice\tINV-000123 \r\n")).To(Equal("Acme Corp Invoice INV-000123"))
	})

	It("returns an empty string for blank input", func() {
		Expect(Normalize("")).To(Equal(""))
		Expect(Normalize(" \n\t ")).To(Equal(""))
	})

	It("is idempotent", func() {
		once := Normalize("  a \n b  ")
		Expect(Normalize(once)).To(Equal(once))
	})
})

var _ = Describe("Extract", func() {
	var (
		text   string
		fields FieldSet
	)

	JustBeforeEach(func() {
		fields = Extract(text)
	})

	When("the text is a typical invoice", func() {
		BeforeEach(func() {
			text = "Acme Corp\nInvoice INV-000123\nDate: 01/15/2024\nSubtotal: 92.00\nTax: 8.00\n"
		})

		It("extracts the vendor", func() {
			Expect(fields.Vendor).To(Equal("Acme Corp Invoice"))
		})

		It("extracts the invoice id", func() {
			Expect(fields.InvoiceID).To(Equal("INV-000123"))
		})

		It("extracts the date", func() {
			Expect(fields.Date).To(Equal("01/15/2024"))
		})

		It("takes the first total-like amount", func() {
			Expect(fields.TotalAmount).To(Equal("92.00"))
		})

		It("extracts the tax", func() {
			Expect(fields.Tax).To(Equal("8.00"))
		})
	})

	When("the date is in ISO order", func() {
		BeforeEach(func() {
			text = "issued 2024-01-15 by mail"
		})

		It("extracts the whole date", func() {
			Expect(fields.Date).To(Equal("2024-01-15"))
		})
	})

	When("there is no date-like token", func() {
		BeforeEach(func() {
			text = "no dates here, only 12 apples"
		})

		It("leaves the date empty", func() {
			Expect(fields.Date).To(BeEmpty())
		})
	})

	When("the text starts in lower case", func() {
		BeforeEach(func() {
			text = "acme corp invoice INV-000123"
		})

		It("finds no vendor", func() {
			Expect(fields.Vendor).To(BeEmpty())
		})

		It("still finds the invoice id", func() {
			Expect(fields.InvoiceID).To(Equal("INV-000123"))
		})
	})

	When("the vendor name is long", func() {
		BeforeEach(func() {
			text = "Big Blue Box Shop Store\nreceipt"
		})

		It("keeps at most four words", func() {
			Expect(fields.Vendor).To(Equal("Big Blue Box Shop"))
		})
	})

	When("the total is labelled amount due", func() {
		BeforeEach(func() {
			text = "Amount Due: $1,234.56"
		})

		It("extracts the amount with separators", func() {
			Expect(fields.TotalAmount).To(Equal("1,234.56"))
		})
	})

	When("the text is OCR noise", func() {
		BeforeEach(func() {
			text = "~~ ## %% 0x 1l1l"
		})

		It("returns empty fields", func() {
			Expect(fields).To(Equal(FieldSet{}))
		})
	})

	It("is deterministic", func() {
		input := "Acme Corp Invoice INV-000123 Total: 100.00"
		Expect(Extract(Normalize(input))).To(Equal(Extract(Normalize(input))))
	})
})

var _ = Describe("Rules", func() {
	It("runs in a fixed order", func() {
		names := make([]string, 0, len(Rules))
		for _, r := range Rules {
			names = append(names, r.Field)
		}
		Expect(names).To(Equal([]string{"date", "invoice_id", "vendor", "total_amount", "tax"}))
	})

	It("lets each rule be applied on its own", func() {
		for _, r := range Rules {
			if r.Field == "tax" {
				Expect(r.Match("GST 5.25")).To(Equal("5.25"))
			}
		}
	})

	It("returns an empty string when a rule does not match", func() {
		for _, r := range Rules {
			Expect(r.Match("")).To(BeEmpty())
		}
	})
})

var _ = Describe("ParseAmount", func() {
	DescribeTable("parsing money strings",
		func(input string, expected float64) {
			Expect(ParseAmount(input)).To(Equal(expected))
		},
		Entry("currency symbol and separators", "$1,234.56", 1234.56),
		Entry("empty string", "", 0.0),
		Entry("letters only", "abc", 0.0),
		Entry("plain number", "100.00", 100.0),
		Entry("several decimal points", "1.2.3", 0.0),
		Entry("Arabic-Indic digits", "١٢٣", 123.0),
		Entry("Devanagari digits with separators", "₹१,२३४.५०", 1234.5),
	)
})
