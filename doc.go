// Package taxlot tracks tax lots for individual securities and keeps their
// sales compliant with the wash-sale rule.
//
// The core functionalities include:
//   - Lot Ledger: the open lots of every account, created on purchase,
//     reinvestment or transfer-in and consumed by sales.
//   - Disposition Calculator: a pure function turning a sale request and a
//     set of open lots into per-lot dispositions using FIFO, LIFO, HIFO or
//     caller-chosen lots.
//   - Wash-Sale Detector: finds replacement purchases within 30 days of a
//     loss sale, disallows the matching part of the loss and moves it into
//     the basis of the replacement lot.
//   - Harvest Scanner: walks every taxable account looking for unrealized
//     losses worth harvesting, and tells when a wash sale stands in the way.
//   - Tax-Savings Estimator: converts a gain or a loss into an estimated tax
//     owed or saved for a given tax profile.
//
// Calculators are stateless. Persistence is behind the Ledger interface,
// with an in-memory implementation in this package and a SQLite one in the
// store package. The Engine ties a Ledger, a PriceLookup and a RateTable
// together and is what the `tlx` command-line tool drives.
package taxlot
