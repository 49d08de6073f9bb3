package registry

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/celer-network/go-dsu/types"
)

var (
	anvilToken = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	anvilVault = common.HexToAddress("0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512")
)

func TestDefaultTable(t *testing.T) {
	r := Default()

	assert.Equal(t, uint64(31337), r.DefaultChainID())
	assert.Equal(t, []uint64{31337}, r.ChainIDs())
	assert.Equal(t, "anvil", r.Name(31337))

	c := r.AddressesFor(31337)
	assert.Equal(t, anvilToken, c.Token)
	assert.Equal(t, anvilVault, c.Vault)
	assert.Equal(t, common.HexToAddress("0x9fE46736679d2D9a65F0992F2272dE9f3c7fa6e0"), c.Minting)
}

func TestUnknownChainFallsBackToDefault(t *testing.T) {
	r := Default()
	def := r.AddressesFor(r.DefaultChainID())

	for _, id := range []uint64{0, 1, 5, 10, 137, 11155111, 42161, ^uint64(0)} {
		c := r.AddressesFor(id)
		assert.Equal(t, def, c, "chain %d", id)
		assert.True(t, c.Complete(), "chain %d", id)
		assert.False(t, r.IsSupported(id), "chain %d", id)
	}
	assert.True(t, r.IsSupported(31337))
}

func TestLoadRejectsBadTables(t *testing.T) {
	_, err := Load([]byte(`
default: 1
chains:
  - id: 31337
    token: "0x5FbDB2315678afecb367f032d93F642f64180aa3"
    vault: "0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512"
`))
	assert.ErrorIs(t, err, ErrNoDefault)

	_, err = Load([]byte(`
default: 1
chains:
  - id: 1
    token: "0x5FbDB2315678afecb367f032d93F642f64180aa3"
    vault: "0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512"
  - id: 1
    token: "0x5FbDB2315678afecb367f032d93F642f64180aa3"
    vault: "0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512"
`))
	assert.ErrorIs(t, err, ErrDuplicateChain)

	_, err = Load([]byte(`
default: 1
chains:
  - id: 1
    token: "not-an-address"
    vault: "0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512"
`))
	assert.ErrorIs(t, err, ErrBadAddress)

	_, err = Load([]byte(`default: [`))
	assert.Error(t, err)
}

func TestWithOverrides(t *testing.T) {
	r := Default()
	sepoliaToken := common.HexToAddress("0x1111111111111111111111111111111111111111")
	sepoliaVault := common.HexToAddress("0x2222222222222222222222222222222222222222")
	newVault := common.HexToAddress("0x3333333333333333333333333333333333333333")

	o := r.WithOverrides(map[uint64]types.ChainContracts{
		11155111: {Token: sepoliaToken, Vault: sepoliaVault},
		31337:    {Vault: newVault},
		1:        {Token: sepoliaToken},
	})

	assert.True(t, o.IsSupported(11155111))
	assert.Equal(t, sepoliaVault, o.AddressesFor(11155111).Vault)

	// partial override merges onto the table entry
	assert.Equal(t, anvilToken, o.AddressesFor(31337).Token)
	assert.Equal(t, newVault, o.AddressesFor(31337).Vault)

	// incomplete override is ignored
	assert.False(t, o.IsSupported(1))

	// the original is untouched
	assert.False(t, r.IsSupported(11155111))
	assert.Equal(t, anvilVault, r.AddressesFor(31337).Vault)
}

func TestTableRoundTrip(t *testing.T) {
	data, err := Default().Table().Marshal()
	require.NoError(t, err)

	r, err := Load(data)
	require.NoError(t, err)
	assert.Equal(t, Default().AddressesFor(31337), r.AddressesFor(31337))
	assert.Equal(t, "anvil", r.Name(31337))
}
