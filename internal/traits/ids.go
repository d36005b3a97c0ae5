package traits

// ID identifies a trait inside a metadata record's "traits" mapping.
// Identity is exact string match.
type ID string

const (
	Named                  ID = "named"
	Fungible               ID = "fungible"
	SquareIcon             ID = "tech.trait.wallet.square_icon"
	CollectionListingImage ID = "tech.trait.wallet.nft_collection_listing_image"
	TokenListingImage      ID = "tech.trait.wallet.nft_token_listing_image"
	TokenCoverImage        ID = "tech.trait.wallet.nft_token_cover_image"
	TokenDescription       ID = "tech.trait.wallet.nft_token_description"
	TokenAttributes        ID = "tech.trait.wallet.nft_token_attributes"
)

func (id ID) String() string { return string(id) }

// Strings converts ids for logging and report output.
func Strings(ids []ID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, string(id))
	}
	return out
}
